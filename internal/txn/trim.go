package txn

// TrimObsolete drops chain entries that can no longer affect any present or
// future reader: every committed entry below the first one visible to the
// oldest active snapshot (spec.md §4.5 "obsolete update trimming"). The
// first such entry is kept (it anchors VisibleValue's base-value search),
// everything strictly below it is cut loose for reclamation.
func TrimObsolete(head *Update, oldestActiveID uint64) (kept *Update, dropped []*Update) {
	if head == nil {
		return nil, nil
	}

	seenVisibleBase := false
	var prev *Update
	for u := head; u != nil; {
		if seenVisibleBase {
			if prev != nil {
				prev.Next = nil
			}
			dropped = appendChain(dropped, u)
			break
		}
		if u.Committed && u.TxnID < oldestActiveID && u.Type != UpdateModify {
			seenVisibleBase = true
		}
		prev = u
		u = u.Next
	}
	return head, dropped
}

func appendChain(dropped []*Update, u *Update) []*Update {
	for ; u != nil; u = u.Next {
		dropped = append(dropped, u)
	}
	return dropped
}
