package capture

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
)

// maxBlobBlockSize is the maximum size of a single append-blob block (4 MB);
// a captured frame chunk is always far smaller, but a rotation still
// guards against an unbounded single blob.
const maxBlobBlockSize = 4 * 1024 * 1024

// maxBlocksPerBlob bounds how many AppendBlock calls land in one blob
// before blobMedium rotates to a freshly created one.
const maxBlocksPerBlob = 50000

// blobMedium records a session as a sequence of append-blob blocks, one
// block per captured frame, rotating to a new blob once the current one
// approaches the service's per-blob block count limit.
type blobMedium struct {
	container *container.Client
	prefix    string

	mu            sync.Mutex
	seq           int
	blocksWritten int64
	name          string
}

// NewBlobStore opens (creating if necessary) an append-blob container
// store under accountURL/containerName, capturing blocks under the given
// name prefix.
func NewBlobStore(ctx context.Context, accountURL, containerName, prefix, account, key string) (Store, error) {
	cred, err := azblob.NewSharedKeyCredential(account, key)
	if err != nil {
		return nil, fmt.Errorf("capture: blob credential: %w", err)
	}
	client, err := azblob.NewClientWithSharedKeyCredential(accountURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("capture: blob client: %w", err)
	}
	cc := client.ServiceClient().NewContainerClient(containerName)
	if _, err := cc.Create(ctx, nil); err != nil {
		var respErr *azcore.ResponseError
		if !(isResponseErr(err, &respErr) && respErr.StatusCode == http.StatusConflict) {
			return nil, fmt.Errorf("capture: create container: %w", err)
		}
	}

	s := &blobMedium{container: cc, prefix: prefix, name: prefix + "-0"}
	if _, err := cc.NewAppendBlobClient(s.name).Create(ctx, nil); err != nil {
		var respErr *azcore.ResponseError
		if !(isResponseErr(err, &respErr) && respErr.StatusCode == http.StatusConflict) {
			return nil, fmt.Errorf("capture: create append blob: %w", err)
		}
	}
	return &frameMedium{medium: s}, nil
}

func isResponseErr(err error, target **azcore.ResponseError) bool {
	re, ok := err.(*azcore.ResponseError)
	if ok {
		*target = re
	}
	return ok
}

// appendRaw writes chunk as one append-blob block, rotating to a new blob
// first if the current one is close to its block-count ceiling.
func (s *blobMedium) appendRaw(ctx context.Context, chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.blocksWritten >= maxBlocksPerBlob-10 {
		if err := s.rotate(ctx); err != nil {
			return err
		}
	}

	r := newByteReadSeeker(chunk)
	if _, err := s.container.NewAppendBlobClient(s.name).AppendBlock(ctx, streaming.NopCloser(r), nil); err != nil {
		return fmt.Errorf("capture: append block: %w", err)
	}
	s.blocksWritten++
	return nil
}

func (s *blobMedium) rotate(ctx context.Context) error {
	s.seq++
	s.name = s.prefix + "-" + strconv.Itoa(s.seq)
	s.blocksWritten = 0
	_, err := s.container.NewAppendBlobClient(s.name).Create(ctx, nil)
	return err
}

// replayRaw streams every block of every rotated blob, prefix-0 through
// the highest sequence number reached during recording, in order.
func (s *blobMedium) replayRaw(ctx context.Context) (<-chan []byte, error) {
	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		for seq := 0; ; seq++ {
			name := s.prefix + "-" + strconv.Itoa(seq)
			resp, err := s.container.NewBlobClient(name).DownloadStream(ctx, &blob.DownloadStreamOptions{})
			if err != nil {
				return
			}
			_ = drainAll(resp.Body, out)
			resp.Body.Close()
		}
	}()
	return out, nil
}

func (s *blobMedium) closeRaw() error { return nil }

type byteReadSeeker struct {
	data []byte
	pos  int64
}

func newByteReadSeeker(data []byte) *byteReadSeeker { return &byteReadSeeker{data: data} }

func (b *byteReadSeeker) Read(p []byte) (int, error) {
	if b.pos >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.pos:])
	b.pos += int64(n)
	return n, nil
}

func (b *byteReadSeeker) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = b.pos + offset
	case io.SeekEnd:
		newPos = int64(len(b.data)) + offset
	}
	b.pos = newPos
	return newPos, nil
}
