package listener

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"time"

	"svcorb/internal/crypt"
)

// Server accepts envelope-framed RPC connections and dispatches each
// request against Registry, enforcing Authorizer before invoking the
// handler — a router-plus-middleware-chain shape carried over length-
// prefixed TCP frames instead of HTTP.
type Server struct {
	Registry    *Registry
	Authorizer  Authorizer
	ClusterName string
	Secret      []byte

	// OnAuthFailure, if set, is called with the envelope's (plaintext,
	// unverified) sender name whenever decryption/authentication fails —
	// wired to a sender blacklist so repeated forged envelopes from the
	// same name get blocked rather than retried forever.
	OnAuthFailure func(sender string)
	// IsBlocked, if set, is consulted before a connection is even
	// decrypted; a blocked sender's connection is dropped immediately.
	IsBlocked func(sender string) bool

	ln net.Listener
}

// NewServer returns a Server bound to listenAddr. Call Serve to start
// accepting connections.
func NewServer(listenAddr, clusterName string, secret []byte, registry *Registry, authorizer Authorizer) (*Server, error) {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, err
	}
	return &Server{
		Registry:    registry,
		Authorizer:  authorizer,
		ClusterName: clusterName,
		Secret:      secret,
		ln:          ln,
	}, nil
}

// Serve accepts connections until ctx is canceled or the listener closes.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				log.Printf("listener: accept: %v", err)
				continue
			}
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))

	raw, err := readFrame(conn)
	if err != nil {
		log.Printf("listener: read from %s: %v", conn.RemoteAddr(), err)
		return
	}

	var env crypt.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("listener: decode envelope from %s: %v", conn.RemoteAddr(), err)
		return
	}

	if s.IsBlocked != nil && s.IsBlocked(env.NodeName) {
		log.Printf("listener: rejecting blacklisted sender %s (%s)", env.NodeName, conn.RemoteAddr())
		return
	}

	var req Request
	if err := crypt.OpenJSON(s.Secret, s.ClusterName, env, &req); err != nil {
		log.Printf("listener: open envelope from %s: %v", conn.RemoteAddr(), err)
		if s.OnAuthFailure != nil {
			s.OnAuthFailure(env.NodeName)
		}
		return // authentication/framing errors dropped locally, per spec.md §7
	}

	resp, info := s.dispatch(ctx, req, conn, env.NodeName)
	resp.Info = info

	out, err := json.Marshal(resp)
	if err != nil {
		log.Printf("listener: marshal response: %v", err)
		return
	}
	respEnv, err := crypt.Seal(s.Secret, s.ClusterName, "", out)
	if err != nil {
		log.Printf("listener: seal response: %v", err)
		return
	}
	body, err := json.Marshal(respEnv)
	if err != nil {
		log.Printf("listener: marshal response envelope: %v", err)
		return
	}
	if err := writeFrame(conn, body); err != nil {
		log.Printf("listener: write response to %s: %v", conn.RemoteAddr(), err)
	}
}

func (s *Server) dispatch(ctx context.Context, req Request, w io.Writer, nodeName string) (Response, []string) {
	h, ok := s.Registry.Resolve(req.Action)
	if !ok {
		return Response{Status: 1, Error: "unknown action: " + req.Action}, nil
	}

	id := Identity{Name: nodeName}
	if s.Authorizer != nil {
		if err := s.Authorizer.Authorize(id, h.Policy); err != nil {
			return Response{Status: 1, Error: err.Error()}, nil
		}
	}

	options, err := ValidateParams(h.Params, req.Options)
	if err != nil {
		return Response{Status: 1, Error: err.Error()}, nil
	}
	req.Options = options

	stream := Streamer(&lineStreamer{w: w})
	data, err := h.Fn(ctx, req, stream)
	if err != nil {
		return Response{Status: 1, Error: err.Error()}, nil
	}
	return Response{Status: 0, Data: data}, nil
}
