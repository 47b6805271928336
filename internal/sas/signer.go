// Package sas signs shared access tokens for project locations with the
// storage account key.
package sas

import (
	"errors"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	blobsas "github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"
	filesas "github.com/Azure/azure-sdk-for-go/sdk/storage/azfile/sas"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azfile/service"

	"github.com/betagouv/euphrosyne-tools-api/internal/storage"
)

// DefaultTTL is how long a signed token stays valid.
const DefaultTTL = time.Hour

// ErrMissingKey is returned when no account key is configured.
var ErrMissingKey = errors.New("storage account key is not configured")

// Permissions is the set of operations a token grants. Add has no file share
// equivalent and is ignored there.
type Permissions struct {
	Read   bool
	Add    bool
	Create bool
	Write  bool
	Delete bool
	List   bool
}

var (
	// SourcePermissions is granted on the tier being copied from.
	SourcePermissions = Permissions{Read: true, List: true}
	// DestinationPermissions is granted on the tier being copied to.
	DestinationPermissions = Permissions{Read: true, Add: true, Create: true, Write: true, Delete: true}
)

// Signer issues container and share SAS tokens with a shared key.
type Signer struct {
	account string
	key     string
	ttl     time.Duration
	now     func() time.Time
}

// New creates a signer. A non-positive ttl selects DefaultTTL.
func New(account, key string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Signer{account: account, key: key, ttl: ttl, now: time.Now}
}

// Sign returns the encoded SAS query string (without the leading '?') scoped
// to the container or share of loc.
func (s *Signer) Sign(loc storage.Location, perms Permissions) (string, error) {
	if s.key == "" {
		return "", ErrMissingKey
	}
	account := loc.Account
	if account == "" {
		account = s.account
	}
	if loc.Container == "" {
		return "", fmt.Errorf("location %q has no container or share", loc.URI)
	}

	start := s.now().UTC()
	expiry := start.Add(s.ttl)

	switch loc.Backend {
	case storage.BackendBlob:
		return s.signBlob(account, loc.Container, perms, start, expiry)
	case storage.BackendFileShare:
		return s.signShare(account, loc.Container, perms, start, expiry)
	default:
		return "", fmt.Errorf("unsupported storage backend %q", loc.Backend)
	}
}

func (s *Signer) signBlob(account, container string, perms Permissions, start, expiry time.Time) (string, error) {
	cred, err := azblob.NewSharedKeyCredential(account, s.key)
	if err != nil {
		return "", fmt.Errorf("create blob credential: %w", err)
	}
	p := blobsas.ContainerPermissions{
		Read:   perms.Read,
		Add:    perms.Add,
		Create: perms.Create,
		Write:  perms.Write,
		Delete: perms.Delete,
		List:   perms.List,
	}
	qp, err := blobsas.BlobSignatureValues{
		Protocol:      blobsas.ProtocolHTTPS,
		StartTime:     start,
		ExpiryTime:    expiry,
		Permissions:   p.String(),
		ContainerName: container,
	}.SignWithSharedKey(cred)
	if err != nil {
		return "", fmt.Errorf("sign container sas: %w", err)
	}
	return qp.Encode(), nil
}

func (s *Signer) signShare(account, share string, perms Permissions, start, expiry time.Time) (string, error) {
	cred, err := service.NewSharedKeyCredential(account, s.key)
	if err != nil {
		return "", fmt.Errorf("create file credential: %w", err)
	}
	p := filesas.SharePermissions{
		Read:   perms.Read,
		Create: perms.Create,
		Write:  perms.Write,
		Delete: perms.Delete,
		List:   perms.List,
	}
	qp, err := filesas.SignatureValues{
		Protocol:    filesas.ProtocolHTTPS,
		StartTime:   start,
		ExpiryTime:  expiry,
		Permissions: p.String(),
		ShareName:   share,
	}.SignWithSharedKey(cred)
	if err != nil {
		return "", fmt.Errorf("sign share sas: %w", err)
	}
	return qp.Encode(), nil
}
