package btree

import "github.com/stonebark/stonebark/internal/block"

// LoadLeaf reads cookie through the block manager and rematerializes it
// as a leaf Page, the read side of Reconcile's write path. Used by
// internal/checkpoint during recovery to rebuild a table's tree from its
// last checkpoint's root address.
func (bt *Btree) LoadLeaf(cookie block.Cookie, pageType PageType) (*Page, error) {
	payload, err := bt.cfg.Manager.Read(cookie)
	if err != nil {
		return nil, err
	}
	entries, err := decodeLeafCells(payload)
	if err != nil {
		return nil, err
	}
	return rebuildLeafPage(pageType, entries), nil
}

// SetRoot installs ref as the tree's root, used by recovery once the last
// checkpoint's root page (a leaf or an internal page) has been reloaded.
func (bt *Btree) SetRoot(ref *Ref) {
	ref.Parent = nil
	bt.root.Store(ref)
}
