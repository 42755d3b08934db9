package state

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/lease"

	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/logger"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/models"
)

const (
	blobLeaseSeconds = 60
	blobLeaseRenew   = 20 * time.Second
)

// BlobStore keeps sessions as blobs in an Azure Storage container so several
// machines can share them. Saves use ETag preconditions; leases are blob
// leases renewed in the background.
type BlobStore struct {
	client *container.Client
	logger *logger.Logger

	mu     sync.Mutex
	leases map[string]string
}

var _ Store = (*BlobStore)(nil)

// NewBlobStore connects to a container URL such as
// https://acct.blob.core.windows.net/oyd-sessions.
func NewBlobStore(containerURL string, cred azcore.TokenCredential, log *logger.Logger) (*BlobStore, error) {
	client, err := container.NewClient(containerURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create container client: %w", err)
	}
	return &BlobStore{client: client, logger: log, leases: map[string]string{}}, nil
}

func (s *BlobStore) blob(id string) *blockblob.Client {
	return s.client.NewBlockBlobClient(id + sessionExt)
}

func (s *BlobStore) leaseConditions(id string) *blob.LeaseAccessConditions {
	s.mu.Lock()
	defer s.mu.Unlock()
	if leaseID, ok := s.leases[id]; ok {
		return &blob.LeaseAccessConditions{LeaseID: &leaseID}
	}
	return nil
}

func (s *BlobStore) Create(ctx context.Context, sess *models.Session) error {
	if err := checkID(sess.ID); err != nil {
		return err
	}
	prev := sess.Version
	sess.Version = 1
	data, err := Encode(sess)
	if err != nil {
		sess.Version = prev
		return err
	}
	_, err = s.blob(sess.ID).Upload(ctx, streaming.NopCloser(bytes.NewReader(data)), &blockblob.UploadOptions{
		AccessConditions: &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfNoneMatch: to.Ptr(azcore.ETagAny)},
		},
	})
	if err != nil {
		sess.Version = prev
		if bloberror.HasCode(err, bloberror.BlobAlreadyExists, bloberror.ConditionNotMet) {
			return conflict(sess.ID, "a session with this id already exists")
		}
		return fmt.Errorf("failed to create session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *BlobStore) Load(ctx context.Context, id string) (*models.Session, error) {
	sess, _, err := s.download(ctx, id)
	return sess, err
}

func (s *BlobStore) download(ctx context.Context, id string) (*models.Session, *azcore.ETag, error) {
	if err := checkID(id); err != nil {
		return nil, nil, err
	}
	resp, err := s.blob(id).DownloadStream(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, nil, &models.SessionNotFoundError{ID: id}
		}
		return nil, nil, fmt.Errorf("failed to read session %s: %w", id, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read session %s: %w", id, err)
	}
	sess, err := Decode(id, data)
	if err != nil {
		return nil, nil, err
	}
	return sess, resp.ETag, nil
}

func (s *BlobStore) Save(ctx context.Context, sess *models.Session) error {
	stored, etag, err := s.download(ctx, sess.ID)
	if err != nil {
		return err
	}
	if stored.Version != sess.Version {
		return conflict(sess.ID, "stored revision %d does not match %d", stored.Version, sess.Version)
	}

	expected := sess.Version
	sess.Version = expected + 1
	data, err := Encode(sess)
	if err != nil {
		sess.Version = expected
		return err
	}
	_, err = s.blob(sess.ID).Upload(ctx, streaming.NopCloser(bytes.NewReader(data)), &blockblob.UploadOptions{
		AccessConditions: &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfMatch: etag},
			LeaseAccessConditions:    s.leaseConditions(sess.ID),
		},
	})
	if err != nil {
		sess.Version = expected
		if bloberror.HasCode(err, bloberror.ConditionNotMet, bloberror.LeaseIDMissing, bloberror.LeaseIDMismatchWithBlobOperation) {
			return conflict(sess.ID, "the stored record changed or is leased by another process")
		}
		return fmt.Errorf("failed to save session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *BlobStore) List(ctx context.Context) ([]models.SessionSummary, error) {
	out := []models.SessionSummary{}
	pager := s.client.NewListBlobsFlatPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list sessions: %w", err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil || !strings.HasSuffix(*item.Name, sessionExt) {
				continue
			}
			id := strings.TrimSuffix(*item.Name, sessionExt)
			if checkID(id) != nil {
				continue
			}
			sess, err := s.Load(ctx, id)
			if err != nil {
				continue
			}
			out = append(out, sess.Summary())
		}
	}
	sortSummaries(out)
	return out, nil
}

func (s *BlobStore) Delete(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	_, err := s.blob(id).Delete(ctx, &blob.DeleteOptions{
		AccessConditions: &blob.AccessConditions{LeaseAccessConditions: s.leaseConditions(id)},
	})
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return &models.SessionNotFoundError{ID: id}
		}
		if bloberror.HasCode(err, bloberror.LeaseIDMissing, bloberror.LeaseIDMismatchWithBlobOperation) {
			return conflict(id, "the session is leased by another process")
		}
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}

func (s *BlobStore) Acquire(ctx context.Context, id string) (Lease, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	lc, err := lease.NewBlobClient(s.blob(id), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create lease client: %w", err)
	}
	if _, err := lc.AcquireLease(ctx, blobLeaseSeconds, nil); err != nil {
		if bloberror.HasCode(err, bloberror.LeaseAlreadyPresent) {
			return nil, conflict(id, "another process holds the blob lease")
		}
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, &models.SessionNotFoundError{ID: id}
		}
		return nil, fmt.Errorf("failed to lease session %s: %w", id, err)
	}

	s.mu.Lock()
	s.leases[id] = *lc.LeaseID()
	s.mu.Unlock()

	renewCtx, stop := context.WithCancel(context.Background())
	l := &blobLease{store: s, id: id, client: lc, stop: stop, done: make(chan struct{})}
	go l.renew(renewCtx)
	return l, nil
}

type blobLease struct {
	store  *BlobStore
	id     string
	client *lease.BlobClient
	stop   context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (l *blobLease) renew(ctx context.Context) {
	defer close(l.done)
	ticker := time.NewTicker(blobLeaseRenew)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := l.client.RenewLease(ctx, nil); err != nil && ctx.Err() == nil {
				l.store.logger.Warningf("Failed to renew blob lease of session %s: %v", l.id, err)
			}
		}
	}
}

func (l *blobLease) Release() error {
	var err error
	l.once.Do(func() {
		l.stop()
		<-l.done
		l.store.mu.Lock()
		delete(l.store.leases, l.id)
		l.store.mu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_, err = l.client.ReleaseLease(ctx, nil)
	})
	return err
}
