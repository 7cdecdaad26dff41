// Package referral walks the member forest formed by referred_by handles.
//
// Stored referred_by values are not guaranteed to form a forest, so every walk
// keeps a visited set and stops silently at the first revisit.
package referral

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/router-for-me/MemberLedger/internal/db"
	"github.com/router-for-me/MemberLedger/internal/ledger"
	"github.com/router-for-me/MemberLedger/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DefaultMaxDepth is the deepest level walked when no depth is given.
const DefaultMaxDepth = 10

// reparentWalkLimit bounds the ancestor walk of a re-parent validation.
const reparentWalkLimit = 100000

// handleChunk bounds the size of IN lists in level-wise queries.
const handleChunk = 500

// ErrCycle is returned when a re-parent would make a member its own ancestor.
var ErrCycle = errors.New("referral: change would create a cycle")

// Node is a descendant together with its distance from the root member.
type Node struct {
	Member models.Member
	Level  int
}

// Store reads the authoritative referral graph from the database.
type Store struct {
	db *gorm.DB
}

// NewStore constructs a Store.
func NewStore(conn *gorm.DB) *Store {
	return &Store{db: conn}
}

// NormalizeDepth clamps a requested depth to [1, DefaultMaxDepth]; zero and
// negative values mean DefaultMaxDepth.
func NormalizeDepth(maxDepth int) int {
	if maxDepth <= 0 || maxDepth > DefaultMaxDepth {
		return DefaultMaxDepth
	}
	return maxDepth
}

// Ancestors returns the referrer chain of memberID, nearest first, at most
// maxDepth long. An unknown member yields an empty chain.
func (s *Store) Ancestors(ctx context.Context, memberID uint64, maxDepth int) ([]models.Member, error) {
	return ancestors(s.db.WithContext(ctx), memberID, NormalizeDepth(maxDepth))
}

func ancestors(conn *gorm.DB, memberID uint64, maxDepth int) ([]models.Member, error) {
	start, errStart := findMember(conn, memberID)
	if errStart != nil {
		if errors.Is(errStart, ledger.ErrNotFound) {
			return []models.Member{}, nil
		}
		return nil, errStart
	}

	visited := map[string]struct{}{start.Handle: {}}
	chain := make([]models.Member, 0, min(maxDepth, DefaultMaxDepth))
	current := *start
	for len(chain) < maxDepth {
		ref := current.ReferrerHandle()
		if ref == "" {
			break
		}
		if _, seen := visited[ref]; seen {
			log.WithFields(log.Fields{"member_id": memberID, "handle": ref}).Debug("referral: ancestor walk hit a cycle")
			break
		}
		parent, errParent := findByHandle(conn, ref)
		if errParent != nil {
			if errors.Is(errParent, ledger.ErrNotFound) {
				break
			}
			return nil, errParent
		}
		visited[ref] = struct{}{}
		chain = append(chain, *parent)
		current = *parent
	}
	return chain, nil
}

// Descendants returns the members recruited beneath memberID, breadth first,
// up to maxDepth levels.
func (s *Store) Descendants(ctx context.Context, memberID uint64, maxDepth int) ([]Node, error) {
	conn := s.db.WithContext(ctx)
	maxDepth = NormalizeDepth(maxDepth)
	start, errStart := findMember(conn, memberID)
	if errStart != nil {
		if errors.Is(errStart, ledger.ErrNotFound) {
			return []Node{}, nil
		}
		return nil, errStart
	}

	visited := map[uint64]struct{}{start.ID: {}}
	frontier := []string{start.Handle}
	nodes := make([]Node, 0)
	for level := 1; level <= maxDepth && len(frontier) > 0; level++ {
		if errCtx := ctx.Err(); errCtx != nil {
			return nil, errCtx
		}
		children, errChildren := childrenOf(conn, frontier)
		if errChildren != nil {
			return nil, errChildren
		}
		next := make([]string, 0, len(children))
		for _, child := range children {
			if _, seen := visited[child.ID]; seen {
				continue
			}
			visited[child.ID] = struct{}{}
			nodes = append(nodes, Node{Member: child, Level: level})
			next = append(next, child.Handle)
		}
		frontier = next
	}
	return nodes, nil
}

// MemberByHandle looks a member up by handle.
func (s *Store) MemberByHandle(ctx context.Context, handle string) (*models.Member, error) {
	return findByHandle(s.db.WithContext(ctx), handle)
}

// ValidateReparent checks that memberID may be moved under newReferrer.
func (s *Store) ValidateReparent(ctx context.Context, memberID uint64, newReferrer string) error {
	member, errMember := findMember(s.db.WithContext(ctx), memberID)
	if errMember != nil {
		return errMember
	}
	return validateReparent(s.db.WithContext(ctx), member, newReferrer)
}

// Reparent is the administrative override of a member's referrer. An empty
// handle detaches the member. The chain above the new referrer is re-validated
// inside the same transaction.
func (s *Store) Reparent(ctx context.Context, memberID uint64, newReferrer string) (*models.Member, error) {
	newReferrer = strings.TrimSpace(newReferrer)
	var out models.Member
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var member models.Member
		if errLock := tx.Clauses(db.ForUpdate()).Where("id = ?", memberID).Take(&member).Error; errLock != nil {
			if errors.Is(errLock, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: member %d", ledger.ErrNotFound, memberID)
			}
			return errLock
		}
		var value any
		if newReferrer != "" {
			if errValidate := validateReparent(tx, &member, newReferrer); errValidate != nil {
				return errValidate
			}
			value = newReferrer
		}
		if errUpdate := tx.Model(&models.Member{}).Where("id = ?", member.ID).Update("referred_by", value).Error; errUpdate != nil {
			return fmt.Errorf("referral: update referrer: %w", errUpdate)
		}
		return tx.Where("id = ?", member.ID).Take(&out).Error
	})
	if errTx != nil {
		return nil, errTx
	}
	log.WithFields(log.Fields{"member_id": memberID, "referred_by": newReferrer}).Info("referral: member re-parented")
	return &out, nil
}

func validateReparent(conn *gorm.DB, member *models.Member, newReferrer string) error {
	newReferrer = strings.TrimSpace(newReferrer)
	if newReferrer == "" {
		return nil
	}
	if newReferrer == member.Handle {
		return fmt.Errorf("%w: %s cannot refer itself", ErrCycle, member.Handle)
	}
	referrer, errReferrer := findByHandle(conn, newReferrer)
	if errReferrer != nil {
		return errReferrer
	}
	chain, errChain := ancestors(conn, referrer.ID, reparentWalkLimit)
	if errChain != nil {
		return errChain
	}
	for _, ancestor := range chain {
		if ancestor.ID == member.ID {
			return fmt.Errorf("%w: %s is an ancestor of %s", ErrCycle, member.Handle, newReferrer)
		}
	}
	return nil
}

func findMember(conn *gorm.DB, memberID uint64) (*models.Member, error) {
	var member models.Member
	if errFind := conn.Where("id = ?", memberID).Take(&member).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: member %d", ledger.ErrNotFound, memberID)
		}
		return nil, fmt.Errorf("referral: load member %d: %w", memberID, errFind)
	}
	return &member, nil
}

func findByHandle(conn *gorm.DB, handle string) (*models.Member, error) {
	var member models.Member
	if errFind := conn.Where("handle = ?", handle).Take(&member).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: member %q", ledger.ErrNotFound, handle)
		}
		return nil, fmt.Errorf("referral: load member %q: %w", handle, errFind)
	}
	return &member, nil
}

func childrenOf(conn *gorm.DB, handles []string) ([]models.Member, error) {
	out := make([]models.Member, 0)
	for start := 0; start < len(handles); start += handleChunk {
		end := start + handleChunk
		if end > len(handles) {
			end = len(handles)
		}
		var batch []models.Member
		if errFind := conn.Where("referred_by IN ?", handles[start:end]).Order("id ASC").Find(&batch).Error; errFind != nil {
			return nil, fmt.Errorf("referral: load children: %w", errFind)
		}
		out = append(out, batch...)
	}
	return out, nil
}

// LoadMembers reads every member in id order using batched queries.
func LoadMembers(ctx context.Context, conn *gorm.DB, batchSize int) ([]models.Member, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}
	members := make([]models.Member, 0)
	var batch []models.Member
	res := conn.WithContext(ctx).Model(&models.Member{}).FindInBatches(&batch, batchSize, func(tx *gorm.DB, _ int) error {
		if errCtx := ctx.Err(); errCtx != nil {
			return errCtx
		}
		members = append(members, batch...)
		return nil
	})
	if res.Error != nil {
		return nil, fmt.Errorf("referral: load members: %w", res.Error)
	}
	return members, nil
}
