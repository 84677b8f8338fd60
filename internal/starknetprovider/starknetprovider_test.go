package starknetprovider

import (
	"context"
	"errors"
	"testing"

	"github.com/goran-ethernal/chain-dna/pkg/provider"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	blocks map[uint64]*GatewayBlock
	latest uint64
	err    error
}

func (f *fakeGateway) GetBlock(ctx context.Context, id BlockID) (*GatewayBlock, error) {
	if f.err != nil {
		return nil, f.err
	}
	if id.Latest {
		return f.blocks[f.latest], nil
	}
	b, ok := f.blocks[id.Number]
	if !ok {
		return nil, errors.New("not found")
	}
	return b, nil
}

func mkBlock(number uint64, hash, parent byte) *GatewayBlock {
	return &GatewayBlock{
		BlockNumber:     number,
		BlockHash:       FieldElement{hash},
		ParentBlockHash: FieldElement{parent},
		Timestamp:       1000 + int64(number),
		Transactions: []GatewayTransaction{
			{Kind: TxInvoke, Hash: FieldElement{0xAA}, ContractAddress: FieldElement{0xBB}},
		},
		Receipts: []GatewayReceipt{
			{
				TransactionHash: FieldElement{0xAA},
				Events: []GatewayEvent{
					{FromAddress: FieldElement{0xCC}, Keys: []FieldElement{{0xDD}}, Data: []FieldElement{{0xEE}}},
				},
			},
		},
	}
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		latest: 2,
		blocks: map[uint64]*GatewayBlock{
			0: mkBlock(0, 0x01, 0x00),
			1: mkBlock(1, 0x02, 0x01),
			2: mkBlock(2, 0x03, 0x02),
		},
	}
}

func TestGetHead(t *testing.T) {
	p := New(newFakeGateway(), Config{})
	c, err := p.GetHead(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(2), c.Number)
}

func TestGetFinalizedHeadBelowDepth(t *testing.T) {
	p := New(newFakeGateway(), Config{ConfirmationDepth: 10})
	_, err := p.GetFinalizedHead(context.Background())
	require.Error(t, err)
	require.Equal(t, provider.ClassNotFound, provider.ClassOf(err))
}

func TestGetFinalizedHeadWithinDepth(t *testing.T) {
	gw := newFakeGateway()
	gw.latest = 5
	gw.blocks[3] = mkBlock(3, 0x04, 0x03)
	gw.blocks[4] = mkBlock(4, 0x05, 0x04)
	gw.blocks[5] = mkBlock(5, 0x06, 0x05)
	p := New(gw, Config{ConfirmationDepth: 2})
	c, err := p.GetFinalizedHead(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(3), c.Number)
}

func TestGetBlockByNumberNormalizes(t *testing.T) {
	p := New(newFakeGateway(), Config{})
	block, err := p.GetBlockByNumber(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, uint64(1), block.Cursor.Number)
	require.Len(t, block.Transactions, 1)
	require.Len(t, block.Receipts, 1)
	require.Len(t, block.Events, 1)
	require.Equal(t, FieldElement{0xCC}.Bytes(), block.Events[0].FromAddress)
}

func TestGetBlockByHashMismatch(t *testing.T) {
	p := New(newFakeGateway(), Config{})
	_, err := p.GetBlockByHash(context.Background(), []byte{0xFF})
	require.Error(t, err)
	require.Equal(t, provider.ClassNotFound, provider.ClassOf(err))
}

func TestGetBlockByHashMatch(t *testing.T) {
	p := New(newFakeGateway(), Config{})
	block, err := p.GetBlockByHash(context.Background(), FieldElement{0x03}.Bytes())
	require.NoError(t, err)
	require.Equal(t, uint64(2), block.Cursor.Number)
}

func TestFieldElementFromBytesPads(t *testing.T) {
	f := FieldElementFromBytes([]byte{0x01, 0x02})
	require.Equal(t, byte(0x01), f[30])
	require.Equal(t, byte(0x02), f[31])
}

func TestProviderImplementsInterface(t *testing.T) {
	var _ provider.ChainProvider = (*Provider)(nil)
}
