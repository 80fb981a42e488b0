// Package chat implements the one-on-one AI chat: the transcript store with
// its streaming message assembly, the file staging area, and the client that
// ties both to the socket transport.
//
// Assistant output arrives as a stream of events (typing_start,
// content_chunk, message_complete) that the store folds into a single
// transcript entry: chunks mutate the in-flight message in place, and the
// final full_content from the server replaces the locally accumulated text
// on completion. Image generation and error events append standalone
// transcript entries.
package chat
