package indexer

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/dshills/docsearch-mcp/internal/storage"
	"github.com/dshills/docsearch-mcp/pkg/types"
)

// extractRelationships resolves the recorded links of every document touched
// by this run, and every link pointing at one, into relationship rows. It
// runs after all batches have committed so any reference between documents
// of the same run resolves. Unresolvable targets are skipped.
func (idx *Indexer) extractRelationships(ctx context.Context, sourceID int64, touched []string, logger *zap.Logger) (int, error) {
	if len(touched) == 0 {
		return 0, nil
	}
	touchedSet := make(map[string]bool, len(touched))
	for _, k := range touched {
		touchedSet[k] = true
	}

	ids, err := idx.storage.DocumentKeys(ctx, sourceID)
	if err != nil {
		return 0, err
	}
	all, err := idx.storage.LinkMetadata(ctx, sourceID)
	if err != nil {
		return 0, err
	}

	var rels []*storage.RelationshipRecord
	unresolved := 0
	for _, dl := range all {
		fromTouched := touchedSet[dl.DocKey]
		for _, l := range dl.Links {
			if !fromTouched && !touchedSet[l.TargetKey] {
				continue
			}
			target, ok := ids[l.TargetKey]
			if !ok {
				unresolved++
				continue
			}
			if target == dl.DocID {
				continue
			}
			rels = append(rels, &storage.RelationshipRecord{
				SourceDocID: dl.DocID,
				TargetDocID: target,
				Type:        l.Type,
				Context:     l.Context,
			})
		}
	}

	inserted := 0
	size := idx.config.RelationshipBatchSize
	for start := 0; start < len(rels); start += size {
		if err := ctx.Err(); err != nil {
			return inserted, err
		}
		batch := rels[start:min(start+size, len(rels))]
		n, err := idx.storage.InsertRelationships(ctx, batch)
		if err != nil {
			logger.Error("relationship batch failed",
				zap.Int("batch_size", len(batch)),
				zap.Error(err))
			return inserted, err
		}
		inserted += n
	}

	logger.Debug("relationships extracted",
		zap.Int("candidates", len(rels)),
		zap.Int("inserted", inserted),
		zap.Int("unresolved", unresolved))
	return inserted, nil
}

// encodeLinks serializes outgoing links for the "links" metadata row
func encodeLinks(links []types.DocumentLink) (string, error) {
	if len(links) == 0 {
		return "", nil
	}
	data, err := json.Marshal(links)
	if err != nil {
		return "", fmt.Errorf("failed to encode links: %w", err)
	}
	return string(data), nil
}

type elementAttributes struct {
	Kind  string `json:"kind"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// encodeAttributes serializes the chunk details kept with an element
func encodeAttributes(ch *types.DocumentChunk) (string, error) {
	data, err := json.Marshal(elementAttributes{
		Kind:  string(ch.Kind),
		Start: ch.Start,
		End:   ch.End,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode attributes: %w", err)
	}
	return string(data), nil
}
