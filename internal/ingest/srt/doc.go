// Package srt implements SRT (Secure Reliable Transport) sources for the
// player, both caller-mode (Caller) for pulling from a remote listener and
// listener-mode (Server) for accepting a publisher. Received bytes flow
// through an ingest.Stream pipe to the demuxer.
package srt
