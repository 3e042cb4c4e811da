// Package webchat relays chat sessions between websocket connections and a
// response engine.
//
// Ownership model:
//   - StreamHub owns connections (Peer), per-session ConnectionPools and the
//     bus reader (StreamCoordinator) of every session with members.
//   - Router owns chat semantics: joining, history, user messages and the
//     asynchronous assistant reply. It only talks to the hub through Transport.
//   - Frames for a session are published on the "chat:<session>" topic of the
//     StreamBackend and fanned out by that session's reader, so several relay
//     processes can share sessions when the Redis backend is enabled.
//
// Recommended setup:
//   - Build a Server with NewServer and call Run.
//   - Or compose NewStreamHub, NewRouter and NewHTTPHandler directly.
package webchat
