// Package channel is a named broadcast channel shared by every tab (process)
// of one client, with self-organising leader election.
//
// Each participant announces itself with heartbeats on the channel. Every
// node keeps its own view of which peers are alive and treats the smallest
// id among them (itself included) as the leader. Views converge through the
// heartbeats but are never linearizable: a negative [Channel.IsLeader] is
// reliable, a positive one is only "probably".
//
// Wire grammar, plain UTF-8 strings:
//
//	alive:<id>:<unixMillis>   periodic heartbeat
//	isnew:<id>:<unixMillis>   first announcement; peers answer at once
//	left:<id>:<unixMillis>    graceful departure
//	_login, _logout           session control messages
//
// Every message starting with "_" is reserved. Anything else is an
// application message delivered to [Channel.OnMessage] listeners.
package channel
