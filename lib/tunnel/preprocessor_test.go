package tunnel

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-i2p/go-tunnelmsg/lib/util/time/monotonic"
)

const testPayloadSize = 960 // three hops

func newTestPreprocessor(t *testing.T) (*Preprocessor, *monotonic.Manual) {
	t.Helper()
	clock := monotonic.NewManual(time.Unix(1_700_000_000, 0))
	p, err := NewPreprocessor(testPayloadSize, WithPreprocessorClock(clock))
	require.NoError(t, err)
	return p, clock
}

// blockMessages decodes every fragment in a block.
func blockMessages(t *testing.T, block []byte) []*DeliveryInstructions {
	t.Helper()
	content, err := openBlock(block)
	require.NoError(t, err)
	var out []*DeliveryInstructions
	for len(content) > 0 {
		di, rest, err := readDeliveryInstructions(content)
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(rest), int(di.Size))
		content = rest[di.Size:]
		out = append(out, di)
	}
	return out
}

func TestPreprocessorSmallMessagesShareBlock(t *testing.T) {
	p, clock := newTestPreprocessor(t)
	for i := 0; i < 3; i++ {
		_, err := p.Enqueue(bytes.Repeat([]byte{byte(i)}, 10), LocalDelivery())
		require.NoError(t, err)
	}

	block, more, err := p.Pump()
	require.NoError(t, err)
	assert.Nil(t, block, "partial block waits for the flush delay")
	assert.False(t, more)

	clock.Advance(DefaultMaxFlushDelay)
	block, more, err = p.Pump()
	require.NoError(t, err)
	require.NotNil(t, block)
	assert.False(t, more)
	assert.LessOrEqual(t, len(block), testPayloadSize)
	assert.Len(t, blockMessages(t, block), 3)
	assert.Equal(t, 0, p.Pending())
}

func TestPreprocessorLargeMessageUsesFragmentCount(t *testing.T) {
	p, _ := newTestPreprocessor(t)
	msg := bytes.Repeat([]byte{0xAB}, 2500)
	id, err := p.Enqueue(msg, LocalDelivery())
	require.NoError(t, err)

	// Full blocks go out immediately, the partial tail waits.
	var blocks [][]byte
	for {
		block, more, err := p.Pump()
		require.NoError(t, err)
		if block != nil {
			blocks = append(blocks, block)
		}
		if !more {
			break
		}
	}
	require.Len(t, blocks, 2)
	assert.Len(t, blocks[0], testPayloadSize)

	rest, err := p.Flush()
	require.NoError(t, err)
	require.Len(t, rest, 1)
	blocks = append(blocks, rest...)

	var got []byte
	for i, block := range blocks {
		content, err := openBlock(block)
		require.NoError(t, err)
		dis := blockMessages(t, block)
		require.Len(t, dis, 1)
		di := dis[0]
		assert.Equal(t, id, di.MessageID)
		assert.Equal(t, i, di.FragmentNumber)
		assert.Equal(t, i > 0, di.FollowOn)
		assert.Equal(t, i == len(blocks)-1, di.Last)
		got = append(got, content[di.Len():]...)
	}
	assert.Equal(t, msg, got)
}

func TestPreprocessorRejections(t *testing.T) {
	p, _ := newTestPreprocessor(t)
	maxData := p.capacity - firstInstructionsSize(LocalDelivery(), true)

	_, err := p.Enqueue(make([]byte, maxData*(MaxFragmentNumber+1)+1), LocalDelivery())
	assert.ErrorIs(t, err, ErrMessageTooLarge)

	_, err = p.Enqueue(make([]byte, 0x10000*(MaxFragmentNumber+1)), LocalDelivery())
	assert.ErrorIs(t, err, ErrMessageTooLarge)

	_, err = p.Enqueue([]byte("x"), DeliveryConfig{Type: deliveryUnused})
	assert.ErrorIs(t, err, ErrInvalidDeliveryInstructions)

	assert.Equal(t, 0, p.Pending())

	_, err = NewPreprocessor(20)
	assert.Error(t, err)
}

func TestPreprocessorFlushEmpty(t *testing.T) {
	p, _ := newTestPreprocessor(t)
	blocks, err := p.Flush()
	require.NoError(t, err)
	assert.Empty(t, blocks)
}

func TestPreprocessorConcurrentEnqueueAndPump(t *testing.T) {
	p, err := NewPreprocessor(testPayloadSize, WithMaxFlushDelay(0))
	require.NoError(t, err)

	var (
		mu     sync.Mutex
		blocks [][]byte
		wg     sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				_, err := p.Enqueue(bytes.Repeat([]byte{byte(w)}, 100+i*40), LocalDelivery())
				assert.NoError(t, err)
			}
		}(w)
	}
	done := make(chan struct{})
	go func() {
		for {
			block, _, err := p.Pump()
			assert.NoError(t, err)
			if block != nil {
				mu.Lock()
				blocks = append(blocks, block)
				mu.Unlock()
			}
			select {
			case <-done:
				return
			default:
			}
		}
	}()
	wg.Wait()
	close(done)

	rest, err := p.Flush()
	require.NoError(t, err)
	mu.Lock()
	blocks = append(blocks, rest...)
	mu.Unlock()

	var delivered int
	fh, err := NewFragmentHandler(func(_ DeliveryConfig, _ []byte) { delivered++ }, 0, nil)
	require.NoError(t, err)
	for _, b := range blocks {
		require.NoError(t, fh.HandleBlock(b))
	}
	assert.Equal(t, 100, delivered)
}

func TestPreprocessorRunFlushesOnCancel(t *testing.T) {
	p, err := NewPreprocessor(testPayloadSize, WithMaxFlushDelay(time.Hour))
	require.NoError(t, err)
	_, err = p.Enqueue([]byte("left behind"), LocalDelivery())
	require.NoError(t, err)

	got := make(chan []byte, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx, time.Millisecond, func(b []byte) error {
			got <- b
			return nil
		})
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
	require.Len(t, got, 1)
	assert.Equal(t, 0, p.Pending())
}

func TestOpenBlock(t *testing.T) {
	block := sealBlock([]byte("content"))
	filled := append(append([]byte(nil), block...), 1, 2, 3)

	content, err := openBlock(filled)
	require.NoError(t, err)
	assert.Equal(t, []byte("content"), content)

	corrupted := append([]byte(nil), block...)
	corrupted[len(corrupted)-1] ^= 1
	_, err = openBlock(corrupted)
	assert.ErrorIs(t, err, ErrInvalidBlock)

	_, err = openBlock(block[:blockHeaderSize+2])
	assert.ErrorIs(t, err, ErrInvalidBlock)

	_, err = openBlock([]byte{1, 2})
	assert.ErrorIs(t, err, ErrInvalidBlock)
}
