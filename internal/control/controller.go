package control

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/diffrant/diffrantd/internal/domain"
	"github.com/diffrant/diffrantd/internal/ports"
)

// Dispatcher is the part of the reader dispatcher the control channel drives.
type Dispatcher interface {
	Open(path string) (domain.OpenResult, error)
	Current() (string, bool)
	Unload() bool
}

// Controller executes requests read from the shell.
type Controller struct {
	d      Dispatcher
	port   func() int
	logger ports.Logger
}

// New creates a controller. port reports the HTTP endpoint's bound port.
func New(d Dispatcher, port func() int, logger ports.Logger) *Controller {
	return &Controller{d: d, port: port, logger: logger}
}

type inbound struct {
	payload []byte
	err     error
}

// Run announces readiness on w, then serves requests from r until r reaches
// EOF, ctx is done, or the stream breaks. A clean EOF returns nil. When ctx
// ends first, r is closed if it is an io.Closer so the pending read returns.
func (c *Controller) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	out := NewFrameWriter(w)
	if err := out.WriteMessage(Response{Type: TypeReady, Port: c.port()}); err != nil {
		return fmt.Errorf("announce ready: %w", err)
	}

	frames := make(chan inbound)
	go func() {
		for {
			payload, err := ReadFrame(r)
			select {
			case frames <- inbound{payload, err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		var in inbound
		select {
		case <-ctx.Done():
			if rc, ok := r.(io.Closer); ok {
				_ = rc.Close()
			}
			return nil
		case in = <-frames:
		}

		if errors.Is(in.err, io.EOF) {
			c.logger.Info("control channel closed")
			return nil
		}

		var req Request
		err := in.err
		if err == nil {
			req, err = DecodeRequest(in.payload)
		}

		var resp Response
		switch {
		case err == nil:
			resp = c.Handle(req)
		case in.err != nil, IsFatalFrameError(err):
			return fmt.Errorf("control channel: %w", err)
		default:
			c.logger.Warn("malformed control request", ports.Err(err))
			resp = Response{Type: TypeError, ErrorKind: "internal", Message: err.Error()}
		}
		if err := out.WriteMessage(resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
}

// Handle executes one request.
func (c *Controller) Handle(req Request) Response {
	c.logger.Debug("control request",
		ports.String("type", req.Type),
		ports.Int64("id", int64(req.ID)))

	switch req.Type {
	case TypeOpen:
		if req.Path == "" {
			return failure(req.ID, "internal", errors.New("open requires a path"))
		}
		res, err := c.d.Open(req.Path)
		if err != nil {
			return failure(req.ID, domain.Kind(err), err)
		}
		n := res.FrameCount
		return Response{
			ID:         req.ID,
			Type:       TypeResult,
			FrameCount: &n,
			Session:    res.Session,
			Format:     res.Format,
			Path:       res.Path,
		}

	case TypePort:
		return Response{ID: req.ID, Type: TypeResult, Port: c.port()}

	case TypeCurrent:
		path, ok := c.d.Current()
		return Response{ID: req.ID, Type: TypeResult, Path: path, Open: &ok}

	case TypeClose:
		c.d.Unload()
		open := false
		return Response{ID: req.ID, Type: TypeResult, Open: &open}

	default:
		return failure(req.ID, "internal", fmt.Errorf("unknown request type %q", req.Type))
	}
}

func failure(id uint64, kind string, err error) Response {
	return Response{ID: id, Type: TypeError, ErrorKind: kind, Message: err.Error()}
}
