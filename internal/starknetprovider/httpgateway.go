package starknetprovider

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// HTTPGateway is a minimal GatewayClient over a Starknet sequencer
// gateway's get_block REST endpoint, wired in for cmd/indexer-node so the
// --chain starknet flag has somewhere real to dial; test coverage for the
// normalization logic itself uses a fake GatewayClient instead (see
// starknetprovider_test.go and DESIGN.md).
type HTTPGateway struct {
	baseURL string
	client  *http.Client
}

// NewHTTPGateway builds a gateway client against baseURL (e.g.
// "https://alpha-mainnet.starknet.io").
func NewHTTPGateway(baseURL string) *HTTPGateway {
	return &HTTPGateway{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// gatewayDTO is the wire shape of the sequencer's get_block response; only
// the fields GetBlock maps into a GatewayBlock are declared.
type gatewayDTO struct {
	BlockHash       string `json:"block_hash"`
	ParentBlockHash string `json:"parent_block_hash"`
	BlockNumber     uint64 `json:"block_number"`
	Timestamp       int64  `json:"timestamp"`
	Status          string `json:"status"`
	Transactions    []struct {
		Type                string   `json:"type"`
		TransactionHash     string   `json:"transaction_hash"`
		ContractAddress     string   `json:"contract_address"`
		EntryPointSelector  string   `json:"entry_point_selector"`
		ClassHash           string   `json:"class_hash"`
		SenderAddress       string   `json:"sender_address"`
		Calldata            []string `json:"calldata"`
	} `json:"transactions"`
	TransactionReceipts []struct {
		TransactionHash string `json:"transaction_hash"`
		Events          []struct {
			FromAddress string   `json:"from_address"`
			Keys        []string `json:"keys"`
			Data        []string `json:"data"`
		} `json:"events"`
	} `json:"transaction_receipts"`
}

// GetBlock implements GatewayClient.
func (g *HTTPGateway) GetBlock(ctx context.Context, id BlockID) (*GatewayBlock, error) {
	q := url.Values{}
	switch {
	case id.Pending:
		q.Set("blockNumber", "pending")
	case id.Latest:
		// sequencer gateway defaults to latest when no selector is given
	default:
		q.Set("blockNumber", fmt.Sprintf("%d", id.Number))
	}

	reqURL := fmt.Sprintf("%s/feeder_gateway/get_block?%s", g.baseURL, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("starknetprovider: building request: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("starknetprovider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("starknetprovider: rate limited (%d)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("starknetprovider: gateway returned %d", resp.StatusCode)
	}

	var dto gatewayDTO
	if err := json.NewDecoder(resp.Body).Decode(&dto); err != nil {
		return nil, fmt.Errorf("starknetprovider: decoding response: %w", err)
	}

	if dto.Status == "PENDING" {
		return nil, ErrPendingBlock
	}

	return dto.toGatewayBlock(), nil
}

func (d *gatewayDTO) toGatewayBlock() *GatewayBlock {
	block := &GatewayBlock{
		BlockHash:       feltFromHex(d.BlockHash),
		ParentBlockHash: feltFromHex(d.ParentBlockHash),
		BlockNumber:     d.BlockNumber,
		Timestamp:       d.Timestamp,
	}

	for _, tx := range d.Transactions {
		calldata := make([]FieldElement, len(tx.Calldata))
		for i, c := range tx.Calldata {
			calldata[i] = feltFromHex(c)
		}
		block.Transactions = append(block.Transactions, GatewayTransaction{
			Kind:               TransactionKind(tx.Type),
			Hash:               feltFromHex(tx.TransactionHash),
			ContractAddress:    feltFromHex(tx.ContractAddress),
			EntryPointSelector: feltFromHex(tx.EntryPointSelector),
			ClassHash:          feltFromHex(tx.ClassHash),
			SenderAddress:      feltFromHex(tx.SenderAddress),
			Calldata:           calldata,
		})
	}

	for _, rc := range d.TransactionReceipts {
		receipt := GatewayReceipt{TransactionHash: feltFromHex(rc.TransactionHash)}
		for _, ev := range rc.Events {
			keys := make([]FieldElement, len(ev.Keys))
			for i, k := range ev.Keys {
				keys[i] = feltFromHex(k)
			}
			data := make([]FieldElement, len(ev.Data))
			for i, dd := range ev.Data {
				data[i] = feltFromHex(dd)
			}
			receipt.Events = append(receipt.Events, GatewayEvent{
				FromAddress: feltFromHex(ev.FromAddress),
				Keys:        keys,
				Data:        data,
			})
		}
		block.Receipts = append(block.Receipts, receipt)
	}

	return block
}

// feltFromHex parses a "0x..."-prefixed hex string into a FieldElement,
// treating a malformed value as the zero element rather than failing the
// whole block.
func feltFromHex(s string) FieldElement {
	if len(s) < 2 || s[0] != '0' || (s[1] != 'x' && s[1] != 'X') {
		return FieldElement{}
	}
	s = s[2:]
	if len(s)%2 == 1 {
		s = "0" + s
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return FieldElement{}
	}
	return FieldElementFromBytes(raw)
}
