package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/cloudfold/backup-operator/internal/retry"
)

const azureBlobName = "azure-blob"

type azureBlobConfig struct {
	Account      string `yaml:"account"`
	Container    string `yaml:"container"`
	SASToken     string `yaml:"sas_token"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	TenantID     string `yaml:"tenant_id"`
}

// azureBlob keeps artifacts in an Azure Blob Storage container. Uploads go
// through a single UploadStream commit, so a failed put leaves no partial
// blob behind.
type azureBlob struct {
	client    *azblob.Client
	account   string
	container string
	ro        retry.Options
}

func init() {
	Register(azureBlobName, func(attrs map[string]any) (Storage, error) {
		var c azureBlobConfig
		if err := decodeAttrs(attrs, &c); err != nil {
			return nil, fmt.Errorf("azure-blob: invalid attributes: %w", err)
		}
		if c.Account == "" || c.Container == "" {
			return nil, fmt.Errorf("azure-blob: account and container are required")
		}
		client, err := newBlobClient(c)
		if err != nil {
			return nil, err
		}
		return &azureBlob{
			client:    client,
			account:   c.Account,
			container: c.Container,
			ro:        retry.FromEnv(),
		}, nil
	})
}

// Credential priority: 1) SAS  2) Service Principal  3) DefaultAzureCredential.
func newBlobClient(c azureBlobConfig) (*azblob.Client, error) {
	endpoint := os.Getenv("AZURE_BLOB_ENDPOINT")
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net/", c.Account)
	}

	if sasRaw := strings.TrimSpace(c.SASToken); sasRaw != "" {
		sas := strings.TrimPrefix(sasRaw, "?")
		return azblob.NewClientWithNoCredential(endpoint+"?"+sas, nil)
	}

	if c.ClientID != "" && c.ClientSecret != "" && c.TenantID != "" {
		cred, err := azidentity.NewClientSecretCredential(c.TenantID, c.ClientID, c.ClientSecret, nil)
		if err != nil {
			return nil, err
		}
		return azblob.NewClient(endpoint, cred, nil)
	}

	defCred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, err
	}
	return azblob.NewClient(endpoint, defCred, nil)
}

func (p *azureBlob) Name() string { return azureBlobName }

func normalizeKey(k string) string {
	return strings.TrimPrefix(k, "/")
}

func (p *azureBlob) Put(ctx context.Context, r io.Reader, size int64, dest string) error {
	key := normalizeKey(dest)

	// Only seekable bodies can be replayed, so plain streams get one attempt.
	rs, seekable := r.(io.ReadSeeker)
	retryable := p.isAzRetryable
	if !seekable {
		retryable = func(error) bool { return false }
	}

	start := time.Now()
	attempt := 0
	uploadOnce := func(ctx context.Context) error {
		attempt++
		log.Debug().
			Str("action", "azure_upload").
			Str("container", p.container).
			Str("key", key).
			Int("attempt", attempt).
			Msg("starting attempt")

		if seekable {
			if _, err := rs.Seek(0, io.SeekStart); err != nil {
				return err
			}
		}
		_, err := p.client.UploadStream(ctx, p.container, key, r, nil)
		if err != nil {
			log.Debug().Err(err).Str("action", "azure_upload").Str("container", p.container).Str("key", key).
				Int("attempt", attempt).Msg("attempt failed")
			return err
		}
		return nil
	}
	if err := retry.Do(ctx, p.ro, retryable, uploadOnce); err != nil {
		return &WriteError{Path: dest, Err: err}
	}
	log.Info().Str("action", "azure_upload").Str("container", p.container).Str("key", key).
		Int64("size", size).Int("attempts", attempt).Dur("elapsed_ms", time.Since(start)).Msg("upload OK")
	return nil
}

func (p *azureBlob) List(ctx context.Context, prefix string) ([]Object, error) {
	key := normalizeKey(prefix)
	if key != "" && !strings.HasSuffix(key, "/") {
		key += "/"
	}

	var objs []Object
	listOnce := func(ctx context.Context) error {
		objs = objs[:0]
		pager := p.client.NewListBlobsFlatPager(p.container, &azblob.ListBlobsFlatOptions{
			Prefix: to.Ptr(key),
		})
		for pager.More() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				return err
			}
			for _, it := range page.Segment.BlobItems {
				if it.Name == nil {
					continue
				}
				obj := Object{Path: *it.Name}
				if it.Properties != nil {
					if it.Properties.ContentLength != nil {
						obj.Size = *it.Properties.ContentLength
					}
					if it.Properties.LastModified != nil {
						obj.ModTime = *it.Properties.LastModified
					}
				}
				objs = append(objs, obj)
			}
		}
		return nil
	}
	if err := retry.Do(ctx, p.ro, p.isAzRetryable, listOnce); err != nil {
		return nil, err
	}

	sort.Slice(objs, func(i, j int) bool {
		if objs[i].ModTime.Equal(objs[j].ModTime) {
			return objs[i].Path < objs[j].Path
		}
		return objs[i].ModTime.Before(objs[j].ModTime)
	})
	return objs, nil
}

func (p *azureBlob) Delete(ctx context.Context, path string) error {
	key := normalizeKey(path)
	deleteOnce := func(ctx context.Context) error {
		_, err := p.client.DeleteBlob(ctx, p.container, key, nil)
		return err
	}
	err := retry.Do(ctx, p.ro, p.isAzRetryable, deleteOnce)
	if err == nil {
		return nil
	}
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		// Target state already reached.
		return nil
	}
	return &DeleteError{Path: path, Err: err}
}

// isAzRetryable: retry rules for Azure (timeout, 5xx, 429, 408, ServerBusy).
func (p *azureBlob) isAzRetryable(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var re *azcore.ResponseError
	if errors.As(err, &re) {
		if re.StatusCode == http.StatusTooManyRequests || re.StatusCode == http.StatusRequestTimeout {
			return true
		}
		if re.StatusCode >= 500 && re.StatusCode <= 599 {
			return true
		}
		if re.ErrorCode == string(bloberror.ServerBusy) {
			return true
		}
	}
	return false
}
