package grpcsignal

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/dkeye/voicebot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type staticTokens struct {
	tok string
	err error
}

func (s staticTokens) GetValidToken(context.Context) (string, error) { return s.tok, s.err }

// startPeer runs a fake signaling service that sends one offer, then
// reports the first message it receives.
func startPeer(t *testing.T) (*bufconn.Listener, <-chan metadata.MD, <-chan *domain.SignalMessage) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	mdc := make(chan metadata.MD, 1)
	got := make(chan *domain.SignalMessage, 1)

	srv := grpc.NewServer(
		grpc.ForceServerCodec(Codec{}),
		grpc.UnknownServiceHandler(func(_ any, stream grpc.ServerStream) error {
			method, _ := grpc.MethodFromServerStream(stream)
			if method != MultiPipeMethod {
				return status.Error(codes.Unimplemented, method)
			}
			md, _ := metadata.FromIncomingContext(stream.Context())
			mdc <- md
			offer := &domain.SignalMessage{CallID: "call-7", Offer: &domain.Offer{SDP: "v=0", MSISDN: "+47"}}
			if err := stream.SendMsg(offer); err != nil {
				return err
			}
			in := new(domain.SignalMessage)
			if err := stream.RecvMsg(in); err != nil {
				return err
			}
			got <- in
			return nil
		}),
	)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis, mdc, got
}

func dialPeer(t *testing.T, lis *bufconn.Listener, tokens staticTokens) *grpc.ClientConn {
	t.Helper()
	cc, err := Dial(Config{Target: "passthrough:///bufnet", Tokens: tokens, Insecure: true},
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close() })
	return cc
}

func TestStreamExchangesMessages(t *testing.T) {
	lis, mdc, got := startPeer(t)
	cc := dialPeer(t, lis, staticTokens{tok: "tok-1"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := Open(ctx, cc, "+4712345678")
	require.NoError(t, err)
	defer s.Close()

	msg, err := s.Recv()
	require.NoError(t, err)
	assert.Equal(t, domain.CallID("call-7"), msg.CallID)
	assert.Equal(t, "+47", msg.Offer.MSISDN)

	md := <-mdc
	assert.Equal(t, []string{"+4712345678"}, md.Get(MSISDNHeader))
	assert.Equal(t, []string{"Bearer tok-1"}, md.Get("authorization"))

	require.NoError(t, s.Send(domain.NewAnswer("call-7", "answer")))
	select {
	case in := <-got:
		assert.Equal(t, "answer", in.Answer.SDP)
	case <-time.After(5 * time.Second):
		t.Fatal("peer did not receive the answer")
	}
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}

func TestStreamFailsWithoutToken(t *testing.T) {
	lis, _, _ := startPeer(t)
	cc := dialPeer(t, lis, staticTokens{err: errors.New("idp down")})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := Open(ctx, cc, "+47")
	if err == nil {
		_, err = s.Recv()
		_ = s.Close()
	}
	require.Error(t, err)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestKeepaliveParams(t *testing.T) {
	kp := Config{}.keepaliveParams()
	assert.Equal(t, DefaultKeepalive, kp.Time)
	assert.Equal(t, DefaultKeepaliveTimeout, kp.Timeout)
	assert.True(t, kp.PermitWithoutStream, "an idle signaling stream is still pinged")

	assert.Equal(t, 90*time.Second, Config{Keepalive: 90 * time.Second}.keepaliveParams().Time)
}
