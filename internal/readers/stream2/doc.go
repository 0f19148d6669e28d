// Package stream2 reads detector frames from captured DECTRIS stream-v2
// CBOR message files.
//
// A capture is the concatenation of the messages a receiver got from the
// detector: one start message, image messages, and optionally an end
// message. Open walks the message boundaries once and records where each
// image message lives; ReadFrame reads and decodes one message.
package stream2
