package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/sirupsen/logrus"

	"github.com/pulsewatch/signals-bot/internal/models"
)

// AzureArchiver uploads mention snapshots to Azure Blob Storage.
type AzureArchiver struct {
	client        *azblob.Client
	containerName string
}

var _ Archiver = (*AzureArchiver)(nil)

// NewAzureArchiver creates an archiver using managed identity.
func NewAzureArchiver(accountName, containerName string) (*AzureArchiver, error) {
	if accountName == "" {
		return nil, fmt.Errorf("storage account name is required")
	}

	credential, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", accountName)
	client, err := azblob.NewClient(serviceURL, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure blob client: %w", err)
	}

	a := &AzureArchiver{
		client:        client,
		containerName: containerName,
	}

	if err := a.ensureContainer(); err != nil {
		return nil, fmt.Errorf("failed to ensure container exists: %w", err)
	}

	return a, nil
}

func (a *AzureArchiver) ensureContainer() error {
	ctx := context.Background()

	_, err := a.client.CreateContainer(ctx, a.containerName, nil)
	if err != nil {
		if !strings.Contains(err.Error(), "ContainerAlreadyExists") {
			return fmt.Errorf("failed to create container: %w", err)
		}
		logrus.Debugf("Container %s already exists", a.containerName)
	} else {
		logrus.Infof("Created container %s", a.containerName)
	}

	return nil
}

// ArchiveMentions uploads one batch as a JSON blob.
func (a *AzureArchiver) ArchiveMentions(targetID string, mentions []models.Mention) error {
	if len(mentions) == 0 {
		return nil
	}

	data, err := marshalMentions(mentions)
	if err != nil {
		return err
	}

	name := archiveBlobName(targetID, time.Now().UTC())
	ctx := context.Background()

	_, err = a.client.UploadBuffer(ctx, a.containerName, name, data, &azblob.UploadBufferOptions{
		BlockSize:   int64(1024 * 1024),
		Concurrency: 3,
	})
	if err != nil {
		return fmt.Errorf("failed to upload blob %s: %w", name, err)
	}

	logrus.Infof("Archived %d mentions to %s", len(mentions), name)
	return nil
}
