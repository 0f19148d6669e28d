package control

// Request types.
const (
	TypeOpen    = "open"
	TypePort    = "port"
	TypeCurrent = "current"
	TypeClose   = "close"
)

// Response types.
const (
	TypeResult = "result"
	TypeError  = "error"
	TypeReady  = "ready"
)

// Request is a command from the shell.
type Request struct {
	ID   uint64 `msgpack:"id"`
	Type string `msgpack:"type"`
	Path string `msgpack:"path,omitempty"`
}

// Response answers a Request, or announces readiness.
type Response struct {
	ID         uint64 `msgpack:"id,omitempty"`
	Type       string `msgpack:"type"`
	FrameCount *int   `msgpack:"frame_count,omitempty"`
	Session    string `msgpack:"session,omitempty"`
	Format     string `msgpack:"format,omitempty"`
	Port       int    `msgpack:"port,omitempty"`
	Path       string `msgpack:"path,omitempty"`
	Open       *bool  `msgpack:"open,omitempty"`
	ErrorKind  string `msgpack:"error_kind,omitempty"`
	Message    string `msgpack:"message,omitempty"`
}
