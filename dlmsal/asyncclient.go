package dlmsal

import (
	"context"

	"github.com/gridmeter/dlms-go/base"
	"go.uber.org/zap"
)

// AsyncDlmsClient is a cooperative, single-flight wrapper around DlmsClient.
// Exactly one operation runs at a time; a second caller attempting to start
// an operation while one is in flight waits for it to finish, or returns
// ctx.Err() if its context ends first. TryAcquire checks for an idle
// session without waiting.
type AsyncDlmsClient struct {
	inner  DlmsClient
	permit chan struct{}
}

// NewAsync wraps an existing DlmsClient (as built by New) with a permit
// channel guarding one-operation-at-a-time access.
func NewAsync(inner DlmsClient) *AsyncDlmsClient {
	permit := make(chan struct{}, 1)
	permit <- struct{}{}
	return &AsyncDlmsClient{inner: inner, permit: permit}
}

func (a *AsyncDlmsClient) acquire(ctx context.Context) error {
	select {
	case <-a.permit:
		return nil
	default:
	}
	select {
	case <-a.permit:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *AsyncDlmsClient) release() {
	select {
	case a.permit <- struct{}{}:
	default:
	}
}

func (a *AsyncDlmsClient) SetLogger(logger *zap.SugaredLogger) { a.inner.SetLogger(logger) }

func (a *AsyncDlmsClient) Open(ctx context.Context) error {
	if err := a.acquire(ctx); err != nil {
		return err
	}
	defer a.release()
	return a.inner.Open()
}

func (a *AsyncDlmsClient) Close(ctx context.Context) error {
	if err := a.acquire(ctx); err != nil {
		return err
	}
	defer a.release()
	return a.inner.Close()
}

func (a *AsyncDlmsClient) Disconnect(ctx context.Context) error {
	if err := a.acquire(ctx); err != nil {
		return err
	}
	defer a.release()
	return a.inner.Disconnect()
}

// Get performs a GET (LN referencing) for every item and returns a
// same-length slice of results. ctx cancellation is only observed while
// waiting for the permit; once an operation is running against the
// transport it runs to completion, since the underlying wire protocol has
// no clean mid-exchange abort.
func (a *AsyncDlmsClient) Get(ctx context.Context, items []DlmsLNRequestItem) ([]DlmsData, error) {
	if err := a.acquire(ctx); err != nil {
		return nil, err
	}
	defer a.release()
	return a.inner.Get(items)
}

func (a *AsyncDlmsClient) GetStream(ctx context.Context, item DlmsLNRequestItem, inmem bool) (DlmsDataStream, error) {
	if err := a.acquire(ctx); err != nil {
		return nil, err
	}
	defer a.release()
	return a.inner.GetStream(item, inmem)
}

// GetChunked is the async counterpart of GetChunked: it batches items into
// groups of maxPerRequest and issues one Get exchange per group while
// holding the permit for the whole call.
func (a *AsyncDlmsClient) GetChunked(ctx context.Context, items []DlmsLNRequestItem, maxPerRequest int) ([]DlmsData, error) {
	if err := a.acquire(ctx); err != nil {
		return nil, err
	}
	defer a.release()
	return a.inner.GetChunked(items, maxPerRequest)
}

func (a *AsyncDlmsClient) Read(ctx context.Context, items []DlmsSNRequestItem) ([]DlmsData, error) {
	if err := a.acquire(ctx); err != nil {
		return nil, err
	}
	defer a.release()
	return a.inner.Read(items)
}

func (a *AsyncDlmsClient) ReadStream(ctx context.Context, item DlmsSNRequestItem, inmem bool) (DlmsDataStream, error) {
	if err := a.acquire(ctx); err != nil {
		return nil, err
	}
	defer a.release()
	return a.inner.ReadStream(item, inmem)
}

func (a *AsyncDlmsClient) Write(ctx context.Context, items []DlmsSNRequestItem) ([]base.DlmsResultTag, error) {
	if err := a.acquire(ctx); err != nil {
		return nil, err
	}
	defer a.release()
	return a.inner.Write(items)
}

func (a *AsyncDlmsClient) Set(ctx context.Context, items []DlmsLNRequestItem) ([]base.DlmsResultTag, error) {
	if err := a.acquire(ctx); err != nil {
		return nil, err
	}
	defer a.release()
	return a.inner.Set(items)
}

func (a *AsyncDlmsClient) Action(ctx context.Context, item DlmsLNRequestItem) (*DlmsData, error) {
	if err := a.acquire(ctx); err != nil {
		return nil, err
	}
	defer a.release()
	return a.inner.Action(item)
}

// SetChunked is the async counterpart of SetChunked: it batches items into
// groups of maxPerRequest and issues one Set exchange per group while
// holding the permit for the whole call.
func (a *AsyncDlmsClient) SetChunked(ctx context.Context, items []DlmsLNRequestItem, maxPerRequest int) ([]base.DlmsResultTag, error) {
	if err := a.acquire(ctx); err != nil {
		return nil, err
	}
	defer a.release()
	return a.inner.SetChunked(items, maxPerRequest)
}

// TryAcquire reports whether the session is currently idle without
// blocking, for callers that want to fail fast instead of waiting on ctx.
func (a *AsyncDlmsClient) TryAcquire() bool {
	select {
	case <-a.permit:
		return true
	default:
		return false
	}
}

// Release returns a permit obtained via TryAcquire. Calling it without a
// prior successful TryAcquire/acquire is a programming error.
func (a *AsyncDlmsClient) Release() { a.release() }
