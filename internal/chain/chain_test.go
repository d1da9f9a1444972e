package chain

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeypairRoundTrip(t *testing.T) {
	kp, err := GenerateKeypair()
	require.NoError(t, err)

	addr := kp.Address()
	assert.True(t, addr.Valid())

	raw, err := addr.PublicKeyBytes()
	require.NoError(t, err)
	assert.Len(t, raw, ed25519.PublicKeySize)

	msg := []byte("hello")
	sig := kp.Sign(msg)
	assert.True(t, ed25519.Verify(raw, msg, sig))
}

func TestKeypairFromBytesRejectsWrongSize(t *testing.T) {
	_, err := KeypairFromBytes(make([]byte, 32))
	assert.Error(t, err)
}

func TestSystemProgramAddressIsValid(t *testing.T) {
	raw, err := SystemProgram.PublicKeyBytes()
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 32), raw)
}

func TestVerifyDeposit(t *testing.T) {
	src := Address("SourceWallet")
	dst := Address("VaultAddress")

	good := &Transaction{
		TxID:      "tx-1",
		Confirmed: true,
		Transfers: []Transfer{{Source: src, Destination: dst, Amount: 1_000_000}},
	}

	tests := []struct {
		name    string
		tx      *Transaction
		min     int64
		wantErr bool
	}{
		{"exact amount", good, 1_000_000, false},
		{"overpay ok", good, 900_000, false},
		{"underpay", good, 1_000_001, true},
		{"nil tx", nil, 1, true},
		{"unconfirmed", &Transaction{TxID: "t", Confirmed: false}, 1, true},
		{"errored", &Transaction{TxID: "t", Confirmed: true, Err: "InstructionError"}, 1, true},
		{"wrong destination", &Transaction{
			Confirmed: true,
			Transfers: []Transfer{{Source: src, Destination: "Elsewhere", Amount: 1_000_000}},
		}, 1, true},
		{"wrong source", &Transaction{
			Confirmed: true,
			Transfers: []Transfer{{Source: "Stranger", Destination: dst, Amount: 1_000_000}},
		}, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyDeposit(tt.tx, src, dst, tt.min)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCompactU16Encoding(t *testing.T) {
	tests := []struct {
		value int
		want  []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x01}},
		{16383, []byte{0xff, 0x7f}},
		{16384, []byte{0x80, 0x80, 0x01}},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		writeCompactU16(&buf, tt.value)
		assert.Equal(t, tt.want, buf.Bytes(), "value %d", tt.value)
	}
}

func TestBuildTransferMessageIsSignable(t *testing.T) {
	from, err := GenerateKeypair()
	require.NoError(t, err)
	to, err := GenerateKeypair()
	require.NoError(t, err)

	blockhash := make([]byte, 32)
	msg, err := buildTransferMessage(from.Address(), to.Address(), blockhash, 500_000)
	require.NoError(t, err)

	// Header + 3 keys + blockhash + instruction must all be present.
	assert.Greater(t, len(msg), 3+1+3*32+32)

	fromRaw, _ := from.Address().PublicKeyBytes()
	assert.True(t, ed25519.Verify(fromRaw, msg, from.Sign(msg)))
}

// rpcHandler fakes the node for RPCClient tests.
func rpcHandler(t *testing.T, responses map[string]any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     int64  `json:"id"`
			Method string `json:"method"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		result, ok := responses[req.Method]
		require.True(t, ok, "unexpected RPC method %s", req.Method)

		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}
}

func TestRPCGetBalance(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, map[string]any{
		"getBalance": map[string]any{"value": 123_456},
	}))
	defer srv.Close()

	c := NewRPCClient(srv.URL, "confirmed", nil)
	balance, err := c.GetBalance(context.Background(), "AnyAddr")
	require.NoError(t, err)
	assert.Equal(t, int64(123_456), balance)
}

func TestRPCGetTransactionParsesTransfers(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, map[string]any{
		"getTransaction": map[string]any{
			"meta": map[string]any{"err": nil},
			"transaction": map[string]any{
				"message": map[string]any{
					"instructions": []any{
						map[string]any{
							"program": "system",
							"parsed": map[string]any{
								"type": "transfer",
								"info": map[string]any{
									"source":      "Src",
									"destination": "Dst",
									"lamports":    750_000,
								},
							},
						},
					},
				},
			},
		},
	}))
	defer srv.Close()

	c := NewRPCClient(srv.URL, "confirmed", nil)
	tx, err := c.GetTransaction(context.Background(), "sig-1")
	require.NoError(t, err)

	assert.True(t, tx.Confirmed)
	assert.Empty(t, tx.Err)
	require.Len(t, tx.Transfers, 1)
	assert.Equal(t, Address("Src"), tx.Transfers[0].Source)
	assert.Equal(t, int64(750_000), tx.Transfers[0].Amount)
}

func TestRPCGetTransactionNotFound(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, map[string]any{
		"getTransaction": nil,
	}))
	defer srv.Close()

	c := NewRPCClient(srv.URL, "confirmed", nil)
	_, err := c.GetTransaction(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrTxNotFound)
}

func TestRPCTransferSubmits(t *testing.T) {
	kp, err := GenerateKeypair()
	require.NoError(t, err)
	dest, err := GenerateKeypair()
	require.NoError(t, err)

	srv := httptest.NewServer(rpcHandler(t, map[string]any{
		"getLatestBlockhash": map[string]any{
			"value": map[string]any{"blockhash": SystemProgram},
		},
		"sendTransaction": "sig-xyz",
	}))
	defer srv.Close()

	c := NewRPCClient(srv.URL, "confirmed", nil)
	sig, err := c.Transfer(context.Background(), kp, dest.Address(), 500_000)
	require.NoError(t, err)
	assert.Equal(t, "sig-xyz", sig)

	_, err = c.Transfer(context.Background(), kp, dest.Address(), 0)
	assert.Error(t, err)
}
