package aesdlib

// Config holds the server configuration
type Config struct {
	ListenAddr      string // Default ":9000"
	DataFile        string // Default "/var/tmp/aesdsocketdata"
	ChunkSize       int    // Receive and replay increment, default 1000
	Backlog         int    // Default 1
	PeerErrorsFatal bool   // Stop serving on the first receive or send failure
}
