// Package groupchat implements the multi-user room client: join/leave with
// nickname correlation, presence tracking, reply-threading, and automatic
// rejoin after reconnection.
//
// The server is the sole ordering authority for the shared timeline. The
// client never inserts its own messages optimistically; they appear only
// once echoed back through a message event, so every participant sees the
// same order. Presence is replaced wholesale from every server-provided
// user list, never patched incrementally.
package groupchat
