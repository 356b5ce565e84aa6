package kit

import (
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func TestDecodeArgs(t *testing.T) {
	// WHAT: DecodeArgs fills a typed request and tolerates missing arguments.
	// WHY: tools without parameters are called with no arguments at all.
	type req struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	decode := DecodeArgs[req]()

	res, err := decode(&mcp.CallToolRequest{Params: &mcp.CallToolParamsRaw{
		Arguments: json.RawMessage(`{"query":"adó","limit":3}`),
	}})
	if err != nil {
		t.Fatal(err)
	}
	if got := res.Request.(req); got.Query != "adó" || got.Limit != 3 {
		t.Fatalf("decoded %+v", got)
	}

	res, err = decode(&mcp.CallToolRequest{Params: &mcp.CallToolParamsRaw{}})
	if err != nil {
		t.Fatal(err)
	}
	if got := res.Request.(req); got != (req{}) {
		t.Fatalf("empty args decoded to %+v", got)
	}

	if _, err := decode(&mcp.CallToolRequest{Params: &mcp.CallToolParamsRaw{
		Arguments: json.RawMessage(`{"limit":"three"}`),
	}}); err == nil {
		t.Fatal("expected error for wrong type")
	}
}
