package chain

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/mr-tron/base58"
)

// RPCClient is a JSON-RPC 2.0 client for the settlement chain node.
type RPCClient struct {
	url        string
	commitment string
	http       *http.Client
	reqID      atomic.Int64
}

// NewRPCClient builds a client for the given node URL. commitment is the
// confirmation level requested on queries ("confirmed" or "finalized").
func NewRPCClient(url, commitment string, httpClient *http.Client) *RPCClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if commitment == "" {
		commitment = "confirmed"
	}
	return &RPCClient{url: url, commitment: commitment, http: httpClient}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *RPCClient) call(ctx context.Context, method string, params []any, result any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.reqID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("rpc %s: %w", method, err)
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("rpc %s: decode: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("rpc %s: %d %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("rpc %s: unmarshal result: %w", method, err)
		}
	}
	return nil
}

// GetBalance implements Client.
func (c *RPCClient) GetBalance(ctx context.Context, addr Address) (int64, error) {
	var result struct {
		Value int64 `json:"value"`
	}
	err := c.call(ctx, "getBalance", []any{string(addr), map[string]any{"commitment": c.commitment}}, &result)
	if err != nil {
		return 0, err
	}
	return result.Value, nil
}

// getTransaction jsonParsed shapes; only the fields verification needs.
type parsedTransaction struct {
	Meta *struct {
		Err any `json:"err"`
	} `json:"meta"`
	Transaction struct {
		Message struct {
			Instructions []struct {
				Program string `json:"program"`
				Parsed  *struct {
					Type string `json:"type"`
					Info struct {
						Source      string `json:"source"`
						Destination string `json:"destination"`
						Lamports    int64  `json:"lamports"`
					} `json:"info"`
				} `json:"parsed"`
			} `json:"instructions"`
		} `json:"message"`
	} `json:"transaction"`
}

// GetTransaction implements Client.
func (c *RPCClient) GetTransaction(ctx context.Context, txID string) (*Transaction, error) {
	var result *parsedTransaction
	err := c.call(ctx, "getTransaction", []any{
		txID,
		map[string]any{"encoding": "jsonParsed", "commitment": c.commitment, "maxSupportedTransactionVersion": 0},
	}, &result)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, ErrTxNotFound
	}

	tx := &Transaction{TxID: txID, Confirmed: true}
	if result.Meta != nil && result.Meta.Err != nil {
		raw, _ := json.Marshal(result.Meta.Err)
		tx.Err = string(raw)
	}
	for _, ins := range result.Transaction.Message.Instructions {
		if ins.Program != "system" || ins.Parsed == nil || ins.Parsed.Type != "transfer" {
			continue
		}
		tx.Transfers = append(tx.Transfers, Transfer{
			Source:      Address(ins.Parsed.Info.Source),
			Destination: Address(ins.Parsed.Info.Destination),
			Amount:      ins.Parsed.Info.Lamports,
		})
	}
	return tx, nil
}

// Transfer implements Client: builds a legacy message carrying one
// system transfer, signs it, and submits it base64-encoded.
func (c *RPCClient) Transfer(ctx context.Context, from *Keypair, to Address, amount int64) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("transfer amount must be positive, got %d", amount)
	}

	var blockhashResult struct {
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}
	if err := c.call(ctx, "getLatestBlockhash", []any{map[string]any{"commitment": c.commitment}}, &blockhashResult); err != nil {
		return "", err
	}
	blockhash, err := base58.Decode(blockhashResult.Value.Blockhash)
	if err != nil || len(blockhash) != 32 {
		return "", fmt.Errorf("invalid blockhash %q", blockhashResult.Value.Blockhash)
	}

	message, err := buildTransferMessage(from.Address(), to, blockhash, uint64(amount))
	if err != nil {
		return "", err
	}

	signature := from.Sign(message)

	// Wire format: compact signature count, signatures, then the message.
	var wire bytes.Buffer
	writeCompactU16(&wire, 1)
	wire.Write(signature)
	wire.Write(message)

	var txID string
	err = c.call(ctx, "sendTransaction", []any{
		base64.StdEncoding.EncodeToString(wire.Bytes()),
		map[string]any{"encoding": "base64", "preflightCommitment": c.commitment},
	}, &txID)
	if err != nil {
		return "", err
	}
	return txID, nil
}

// buildTransferMessage serializes a legacy message with a single system
// transfer instruction.
func buildTransferMessage(from, to Address, blockhash []byte, lamports uint64) ([]byte, error) {
	fromKey, err := from.PublicKeyBytes()
	if err != nil {
		return nil, err
	}
	toKey, err := to.PublicKeyBytes()
	if err != nil {
		return nil, err
	}
	programKey, err := SystemProgram.PublicKeyBytes()
	if err != nil {
		return nil, err
	}

	var msg bytes.Buffer

	// Header: 1 required signature, 0 readonly signed, 1 readonly unsigned
	// (the program account).
	msg.Write([]byte{1, 0, 1})

	// Account keys: fee payer/source, destination, system program.
	writeCompactU16(&msg, 3)
	msg.Write(fromKey)
	msg.Write(toKey)
	msg.Write(programKey)

	msg.Write(blockhash)

	// One instruction: program index 2, accounts [0, 1],
	// data = u32 transfer discriminator (2) + u64 lamports.
	writeCompactU16(&msg, 1)
	msg.WriteByte(2)
	writeCompactU16(&msg, 2)
	msg.Write([]byte{0, 1})

	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], 2)
	binary.LittleEndian.PutUint64(data[4:12], lamports)
	writeCompactU16(&msg, len(data))
	msg.Write(data)

	return msg.Bytes(), nil
}

// writeCompactU16 writes the chain's variable-length u16 encoding.
func writeCompactU16(buf *bytes.Buffer, value int) {
	v := uint16(value)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			buf.WriteByte(b)
			return
		}
		buf.WriteByte(b | 0x80)
	}
}
