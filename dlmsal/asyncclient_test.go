package dlmsal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gridmeter/dlms-go/base"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeDlmsClient struct {
	mu       sync.Mutex
	openErr  error
	getDelay time.Duration
	getCalls int
}

func (f *fakeDlmsClient) Close() error               { return nil }
func (f *fakeDlmsClient) Disconnect() error          { return nil }
func (f *fakeDlmsClient) Open() error                { return f.openErr }
func (f *fakeDlmsClient) SetLogger(*zap.SugaredLogger) {}
func (f *fakeDlmsClient) Get(items []DlmsLNRequestItem) ([]DlmsData, error) {
	f.mu.Lock()
	f.getCalls++
	f.mu.Unlock()
	if f.getDelay > 0 {
		time.Sleep(f.getDelay)
	}
	return make([]DlmsData, len(items)), nil
}
func (f *fakeDlmsClient) GetStream(DlmsLNRequestItem, bool) (DlmsDataStream, error) { return nil, nil }
func (f *fakeDlmsClient) GetChunked(items []DlmsLNRequestItem, maxPerRequest int) ([]DlmsData, error) {
	return make([]DlmsData, len(items)), nil
}
func (f *fakeDlmsClient) Read(items []DlmsSNRequestItem) ([]DlmsData, error) {
	return make([]DlmsData, len(items)), nil
}
func (f *fakeDlmsClient) ReadStream(DlmsSNRequestItem, bool) (DlmsDataStream, error) { return nil, nil }
func (f *fakeDlmsClient) Write(items []DlmsSNRequestItem) ([]base.DlmsResultTag, error) {
	return make([]base.DlmsResultTag, len(items)), nil
}
func (f *fakeDlmsClient) Action(DlmsLNRequestItem) (*DlmsData, error) { return &DlmsData{}, nil }
func (f *fakeDlmsClient) Set(items []DlmsLNRequestItem) ([]base.DlmsResultTag, error) {
	return make([]base.DlmsResultTag, len(items)), nil
}
func (f *fakeDlmsClient) SetChunked(items []DlmsLNRequestItem, maxPerRequest int) ([]base.DlmsResultTag, error) {
	return make([]base.DlmsResultTag, len(items)), nil
}
func (f *fakeDlmsClient) LNAuthentication(bool) error { return nil }

func TestAsyncClientSerializesOperations(t *testing.T) {
	inner := &fakeDlmsClient{getDelay: 20 * time.Millisecond}
	client := NewAsync(inner)

	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Get(context.Background(), []DlmsLNRequestItem{{}})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.GreaterOrEqual(t, time.Since(start), 3*inner.getDelay/2)
	assert.Equal(t, 3, inner.getCalls)
}

func TestAsyncClientBusyContextCancel(t *testing.T) {
	inner := &fakeDlmsClient{getDelay: 50 * time.Millisecond}
	client := NewAsync(inner)

	require.True(t, client.TryAcquire())
	defer client.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := client.Get(ctx, []DlmsLNRequestItem{{}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAsyncClientGetChunkedDelegates(t *testing.T) {
	inner := &fakeDlmsClient{}
	client := NewAsync(inner)

	got, err := client.GetChunked(context.Background(), make([]DlmsLNRequestItem, 5), 2)
	require.NoError(t, err)
	assert.Len(t, got, 5)
}

func TestAsyncClientTryAcquireReportsBusy(t *testing.T) {
	inner := &fakeDlmsClient{}
	client := NewAsync(inner)

	require.True(t, client.TryAcquire())
	assert.False(t, client.TryAcquire())
	client.Release()
	assert.True(t, client.TryAcquire())
	client.Release()
}
