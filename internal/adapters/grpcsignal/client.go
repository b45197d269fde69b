// Package grpcsignal carries the signaling stream over the WebTerminal
// MultiPipe gRPC method.
package grpcsignal

import (
	"context"
	"crypto/tls"
	"sync"
	"time"

	"github.com/dkeye/voicebot/internal/auth"
	"github.com/dkeye/voicebot/internal/core"
	"github.com/dkeye/voicebot/internal/domain"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
)

const (
	MultiPipeMethod = "/wgtwo.webterminal.v0.WebTerminalService/MultiPipe"
	MSISDNHeader    = "wg2-msisdn"

	// DefaultKeepalive matches the default server enforcement minimum; shorter
	// pings get the connection closed with too_many_pings.
	DefaultKeepalive        = 5 * time.Minute
	DefaultKeepaliveTimeout = 20 * time.Second
)

type Config struct {
	Target string
	Tokens auth.TokenSource
	// Insecure uses a plaintext channel. Only for local testing.
	Insecure bool
	// Keepalive is the HTTP/2 ping interval that keeps an idle MultiPipe
	// stream open.
	Keepalive time.Duration
}

func (c Config) keepaliveParams() keepalive.ClientParameters {
	interval := c.Keepalive
	if interval <= 0 {
		interval = DefaultKeepalive
	}
	return keepalive.ClientParameters{
		Time:                interval,
		Timeout:             DefaultKeepaliveTimeout,
		PermitWithoutStream: true,
	}
}

func Dial(cfg Config, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	if cfg.Insecure {
		creds = insecure.NewCredentials()
	}
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithPerRPCCredentials(auth.PerRPCCredentials{Tokens: cfg.Tokens, AllowInsecure: cfg.Insecure}),
		grpc.WithKeepaliveParams(cfg.keepaliveParams()),
	}, opts...)
	log.Info().Str("module", "grpcsignal").Str("target", cfg.Target).Bool("insecure", cfg.Insecure).Msg("creating signaling client")
	return grpc.NewClient(cfg.Target, opts...)
}

var multiPipeDesc = &grpc.StreamDesc{
	StreamName:    "MultiPipe",
	ServerStreams: true,
	ClientStreams: true,
}

// Stream is one open MultiPipe call. Recv and Send may run concurrently
// with each other but each must have a single caller.
type Stream struct {
	cs     grpc.ClientStream
	cancel context.CancelFunc

	sendMu    sync.Mutex
	closeOnce sync.Once
}

var _ core.SignalConnection = (*Stream)(nil)

// Open starts MultiPipe for the subscriber msisdn. The stream lives until
// Close or until ctx is done.
func Open(ctx context.Context, cc grpc.ClientConnInterface, msisdn string) (*Stream, error) {
	sctx, cancel := context.WithCancel(ctx)
	sctx = metadata.AppendToOutgoingContext(sctx, MSISDNHeader, msisdn)
	cs, err := cc.NewStream(sctx, multiPipeDesc, MultiPipeMethod, grpc.ForceCodec(Codec{}))
	if err != nil {
		cancel()
		return nil, err
	}
	log.Info().Str("module", "grpcsignal").Str("msisdn", msisdn).Msg("multipipe stream opened")
	return &Stream{cs: cs, cancel: cancel}, nil
}

func (s *Stream) Recv() (*domain.SignalMessage, error) {
	msg := new(domain.SignalMessage)
	if err := s.cs.RecvMsg(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *Stream) Send(msg *domain.SignalMessage) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.cs.SendMsg(msg)
}

func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		// A Send stuck on flow control is unblocked by cancel instead.
		if s.sendMu.TryLock() {
			err = s.cs.CloseSend()
			s.sendMu.Unlock()
		}
		s.cancel()
	})
	return err
}
