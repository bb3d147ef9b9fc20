package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/keygate/client"
)

const closeTimeout = 5 * time.Second

var tabCmd = &cobra.Command{
	Use:   "tab",
	Short: "Open an interactive tab",
	Long: `Open a tab: join the coordination channel, load the session token and
read commands from stdin until EOF, "quit" or a signal.

Commands:
  refresh        fetch a new session token
  status         print the token status
  whoami         print the token claims
  logout         clear the token in every tab
  post <msg>     broadcast an application message
  leader         print the current leader
  nodes          list live peers
  device         print this tab's device id
  quit           close the tab`,
	RunE: runTab,
}

func init() {
	addClientFlags(tabCmd)
	rootCmd.AddCommand(tabCmd)
}

func runTab(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	out := cmd.OutOrStdout()

	env, err := openTab(ctx, true)
	if err != nil {
		return err
	}
	defer env.close()

	c, err := env.newClient(ctx)
	if err != nil {
		return err
	}
	ch := c.Channel()
	fmt.Fprintf(out, "tab %d joined %q (backend %s)\n", ch.ID(), ch.Name(), env.backend)

	ch.OnLeaderChange(func(leader int64) {
		if leader == ch.ID() {
			fmt.Fprintln(out, "* this tab is now the leader")
		} else {
			fmt.Fprintf(out, "* leader is now %d\n", leader)
		}
	})
	ch.OnLogin(func() { fmt.Fprintln(out, "* login") })
	ch.OnLogout(func() { fmt.Fprintln(out, "* logout") })
	ch.OnMessage(func(msg string) { fmt.Fprintf(out, "* message: %s\n", msg) })

	unloaded := env.hooks.NotifyOnSignal(ctx)
	lines := readLines(cmd.InOrStdin())

loop:
	for {
		select {
		case <-unloaded:
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			quit, err := tabCommand(ctx, out, c, line)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
			if quit {
				break loop
			}
		}
	}

	env.hooks.Unload()
	closeCtx, closeCancel := context.WithTimeout(context.Background(), closeTimeout)
	defer closeCancel()
	return c.Close(closeCtx)
}

func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		s := bufio.NewScanner(r)
		for s.Scan() {
			lines <- s.Text()
		}
	}()
	return lines
}

func tabCommand(ctx context.Context, out io.Writer, c *client.Client, line string) (quit bool, err error) {
	verb, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	k := c.Keeper()
	switch verb {
	case "":
	case "refresh":
		if err := c.RefreshAccessToken(ctx); err != nil {
			return false, err
		}
		fmt.Fprintln(out, k.SessionTokenStatus(ctx))
	case "status":
		fmt.Fprintln(out, k.SessionTokenStatus(ctx))
	case "whoami":
		s := k.GetSessionToken()
		if s == nil {
			fmt.Fprintln(out, "no session")
			return false, nil
		}
		printSession(out, s.Claims.UID, s.Claims.ExpiresAt(), s.Claims.Nonce, s.Hash)
	case "logout":
		return false, c.Logout(ctx)
	case "post":
		return false, c.Channel().Post(rest)
	case "leader":
		ch := c.Channel()
		fmt.Fprintf(out, "leader %d (this tab %d, leading: %t)\n", ch.Leader(), ch.ID(), ch.IsLeader())
	case "nodes":
		for _, n := range c.Channel().Nodes() {
			fmt.Fprintf(out, "%d\tlast seen %s ago\n", n.ID, time.Since(n.LastSeenAt).Round(time.Millisecond))
		}
	case "device":
		id, err := c.DeviceID(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintln(out, id)
	case "quit", "exit":
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %q", verb)
	}
	return false, nil
}

func printSession(out io.Writer, uid string, exp time.Time, nonce, hash string) {
	fmt.Fprintf(out, "uid:     %s\n", uid)
	fmt.Fprintf(out, "expires: %s (%s)\n", exp.Format(time.RFC3339), time.Until(exp).Round(time.Second))
	fmt.Fprintf(out, "nonce:   %s\n", nonce)
	fmt.Fprintf(out, "hash:    %s\n", hash)
}
