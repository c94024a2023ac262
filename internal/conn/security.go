package conn

// SecurityLayer wraps raw socket bytes with an encrypt/decrypt
// handshake and codec. The algorithm is opaque to the connection core;
// implementations report failures that the connection surfaces as
// KindHandshakeError, distinct from plain socket trouble.
//
// All methods are called only from the connection's owning worker.
type SecurityLayer interface {
	// Handshake starts the negotiation and returns the first bytes to
	// send to the server, if any.
	Handshake() ([]byte, error)

	// HandshakeDone reports whether negotiation has completed.
	HandshakeDone() bool

	// ReadWrite feeds inbound wire bytes through the layer. It returns
	// decrypted plaintext ready for frame assembly (may be empty during
	// negotiation) and any bytes the layer needs written back to the
	// server.
	ReadWrite(in []byte) (plain []byte, out []byte, err error)

	// Encrypt transforms outbound plaintext into wire bytes. Valid only
	// after HandshakeDone reports true.
	Encrypt(plain []byte) ([]byte, error)
}
