// Package conv wires the conversation (wavelet) store: the participant
// based access policy, permission caches, and the hooks that keep the
// derived index and the external index in step with committed wavelets.
package conv
