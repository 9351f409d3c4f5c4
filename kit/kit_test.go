package kit

import (
	"context"
	"errors"
	"testing"

	"github.com/hazyhaar/fouille/idgen"
)

func TestChain_Order(t *testing.T) {
	var order []string

	mw := func(name string) Middleware {
		return func(next Endpoint) Endpoint {
			return func(ctx context.Context, req any) (any, error) {
				order = append(order, name+"_before")
				resp, err := next(ctx, req)
				order = append(order, name+"_after")
				return resp, err
			}
		}
	}

	base := func(_ context.Context, _ any) (any, error) {
		order = append(order, "endpoint")
		return "ok", nil
	}

	resp, err := Chain(mw("a"), mw("b"))(base)(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp != "ok" {
		t.Fatalf("response: got %v", resp)
	}

	expected := []string{"a_before", "b_before", "endpoint", "b_after", "a_after"}
	if len(order) != len(expected) {
		t.Fatalf("order length: got %d, want %d", len(order), len(expected))
	}
	for i, v := range expected {
		if order[i] != v {
			t.Fatalf("order[%d]: got %q, want %q", i, order[i], v)
		}
	}
}

func TestChain_ErrorPropagation(t *testing.T) {
	errFail := errors.New("fail")
	base := func(_ context.Context, _ any) (any, error) {
		return nil, errFail
	}
	chained := Chain(WithLogging(nil, "op"))(base)
	if _, err := chained(context.Background(), nil); !errors.Is(err, errFail) {
		t.Fatalf("error: got %v, want %v", err, errFail)
	}
}

func TestWithRequestID(t *testing.T) {
	var seen []string
	base := func(ctx context.Context, _ any) (any, error) {
		seen = append(seen, GetRequestID(ctx))
		return nil, nil
	}
	ep := WithRequestID(idgen.Sequence("req"))(base)

	ep(context.Background(), nil)
	ep(WithRequestIDValue(context.Background(), "given"), nil)

	if len(seen) != 2 || seen[0] != "req-1" || seen[1] != "given" {
		t.Fatalf("request ids = %v", seen)
	}
}

func TestContext_TransportDefault(t *testing.T) {
	if v := GetTransport(context.Background()); v != "http" {
		t.Fatalf("default transport: got %q, want 'http'", v)
	}
	if v := GetTransport(WithTransport(context.Background(), "mcp")); v != "mcp" {
		t.Fatalf("transport: got %q", v)
	}
}
