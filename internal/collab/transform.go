package collab

import "github.com/google/uuid"

// transform rewrites incoming so it applies correctly after applied has
// already changed shared state. It is a total function over the op-type
// pairs; every case is matched explicitly so a new op type fails to compile
// until each conflict rule is decided.
//
// Rules:
//   - two inserts at the same (parent, left) slot are ordered by the
//     deterministic Before order: the later op re-points its left to the
//     earlier op's block, so all replicas converge to the same sibling order;
//     root-level slots are scoped per page, so edits on different pages
//     never conflict
//   - delete wins over a concurrent move or update of the same block; the
//     loser degrades to a dropped no-op
//   - operations positioned against a deleted block are dropped
//   - two moves of the same block: last timestamp wins, the loser is
//     surfaced as a dropped no-op
//   - two updates of the same block: last timestamp wins
func transform(incoming, applied Op) Op {
	if incoming.Dropped {
		return incoming
	}

	switch applied.Type {
	case TypeInsert:
		switch incoming.Type {
		case TypeInsert:
			if sameSlot(incoming, applied) && applied.Before(incoming) {
				incoming.LeftID = applied.BlockID
			}
		case TypeMove:
			if sameSlot(incoming, applied) && applied.Before(incoming) {
				incoming.LeftID = applied.BlockID
			}
		case TypeUpdate, TypeDelete:
			// An insert cannot invalidate edits of other blocks.
		}

	case TypeUpdate:
		switch incoming.Type {
		case TypeUpdate:
			if incoming.BlockID == applied.BlockID && incoming.Before(applied) {
				incoming.Dropped = true
			}
		case TypeInsert, TypeDelete, TypeMove:
			// Content changes do not affect structure.
		}

	case TypeDelete:
		// The engine records the deleted block's former left neighbour in the
		// logged delete's LeftID, so position references can be repointed the
		// same way the store relinked the chain.
		switch incoming.Type {
		case TypeInsert:
			if incoming.ParentID == applied.BlockID {
				incoming.Dropped = true
			} else if incoming.LeftID == applied.BlockID {
				incoming.LeftID = applied.LeftID
			}
		case TypeUpdate:
			if incoming.BlockID == applied.BlockID {
				incoming.Dropped = true
			}
		case TypeDelete:
			if incoming.BlockID == applied.BlockID {
				incoming.Dropped = true
			}
		case TypeMove:
			// Delete wins: a move colliding with a delete is dropped.
			if incoming.BlockID == applied.BlockID || incoming.ParentID == applied.BlockID {
				incoming.Dropped = true
			} else if incoming.LeftID == applied.BlockID {
				incoming.LeftID = applied.LeftID
			}
		}

	case TypeMove:
		switch incoming.Type {
		case TypeMove:
			if incoming.BlockID == applied.BlockID && incoming.Before(applied) {
				incoming.Dropped = true
			}
			if incoming.BlockID != applied.BlockID && sameSlot(incoming, applied) && applied.Before(incoming) {
				incoming.LeftID = applied.BlockID
			}
			// A move also vacates a slot: an incoming op positioned after the
			// moved block keeps its left; the block still exists, the splice
			// lands wherever the block is now. That is the intended behaviour.
		case TypeInsert:
			if sameSlot(incoming, applied) && applied.Before(incoming) {
				incoming.LeftID = applied.BlockID
			}
		case TypeUpdate, TypeDelete:
			// Position changes do not invalidate content edits or deletes.
		}
	}
	return incoming
}

// references lists the block IDs an op needs present before it can apply.
func references(op Op) []uuid.UUID {
	var ids []uuid.UUID
	switch op.Type {
	case TypeInsert:
		if op.ParentID != uuid.Nil {
			ids = append(ids, op.ParentID)
		}
		if op.LeftID != uuid.Nil {
			ids = append(ids, op.LeftID)
		}
	case TypeUpdate, TypeDelete:
		ids = append(ids, op.BlockID)
	case TypeMove:
		ids = append(ids, op.BlockID)
		if op.ParentID != uuid.Nil {
			ids = append(ids, op.ParentID)
		}
		if op.LeftID != uuid.Nil {
			ids = append(ids, op.LeftID)
		}
	}
	return ids
}
