// Copyright 2024 The PMGraph Authors
// This file is part of PMGraph.
//
// PMGraph is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// PMGraph is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with PMGraph. If not, see <http://www.gnu.org/licenses/>.

package index

import (
	"encoding/binary"

	"github.com/pmgraph/pmgraph/alloc"
	"github.com/pmgraph/pmgraph/chunklist"
	"github.com/pmgraph/pmgraph/journal"
	"github.com/pmgraph/pmgraph/pgerr"
	"github.com/pmgraph/pmgraph/proplist"
	"github.com/pmgraph/pmgraph/region"
)

// Tree node field offsets. Layout:
//
//	0  left      (8)
//	8  right     (8)
//	16 parent    (8)
//	24 height    (1)
//	25 kind      (1)  proplist.Kind of the stored key
//	26 extFlag   (1)  1 if keyData holds an external-string descriptor
//	27 pad       (1)
//	28 keyLen    (2)  live byte length for inline/external String keys
//	30 pad       (2)
//	32 keyData   (keyAreaSize)
//	32+keyAreaSize  bucket header (chunklist.HeaderSize, 24 bytes)
const (
	fLeft    region.Offset = 0
	fRight   region.Offset = 8
	fParent  region.Offset = 16
	fHeight  region.Offset = 24
	fKind    region.Offset = 25
	fExtFlag region.Offset = 26
	fKeyLen  region.Offset = 28
	fKeyData region.Offset = 32

	keyAreaSize         = 24
	externalKeyDescSize = 1 + 8 + 4 // shard + arena offset + length
)

var fBucket = fKeyData + keyAreaSize

const nodeObjectSize = int(fKeyData) + keyAreaSize + chunklist.HeaderSize

// Tree is one AVL tree index over a single (ObjectKind, tag, property key)
// triple. Every tree in the graph shares one TreeNode pool and one bucket
// pool (chunklist.List); trees are distinguished purely by the root
// offset held in their Manager directory entry.
type Tree struct {
	nodes   *alloc.FixedPool
	buckets *chunklist.List
	arena   *alloc.Arena
	keyKind proplist.Kind
}

// OpenTreePool rebuilds the shared TreeNode pool used by every index tree
// in the graph.
func OpenTreePool(m *region.Map) (*alloc.FixedPool, error) {
	return alloc.Open(m, region.TreeNodes, nodeObjectSize)
}

func newTree(nodes *alloc.FixedPool, buckets *chunklist.List, arena *alloc.Arena, keyKind proplist.Kind) *Tree {
	return &Tree{nodes: nodes, buckets: buckets, arena: arena, keyKind: keyKind}
}

func (t *Tree) readOffsetField(tx *journal.Tx, node, field region.Offset) (region.Offset, error) {
	buf, err := tx.Read(region.TreeNodes, node+field, 8)
	if err != nil {
		return 0, err
	}
	return region.Offset(binary.LittleEndian.Uint64(buf)), nil
}

func (t *Tree) writeOffsetField(tx *journal.Tx, node, field, v region.Offset) error {
	return tx.PutUint64(region.TreeNodes, node+field, uint64(v))
}

func (t *Tree) readRoot(tx *journal.Tx, rootField region.Offset) (region.Offset, error) {
	buf, err := tx.Read(region.Indices, rootField, 8)
	if err != nil {
		return 0, err
	}
	return region.Offset(binary.LittleEndian.Uint64(buf)), nil
}

func (t *Tree) writeRoot(tx *journal.Tx, rootField, v region.Offset) error {
	return tx.PutUint64(region.Indices, rootField, uint64(v))
}

func (t *Tree) readHeight(tx *journal.Tx, node region.Offset) (int, error) {
	if node == 0 {
		return 0, nil
	}
	buf, err := tx.Read(region.TreeNodes, node+fHeight, 1)
	if err != nil {
		return 0, err
	}
	return int(buf[0]), nil
}

func (t *Tree) writeHeight(tx *journal.Tx, node region.Offset, h int) error {
	return tx.PutByte(region.TreeNodes, node+fHeight, byte(h))
}

// readKey decodes the value stored in node's key area, following the
// external-string descriptor into the arena when extFlag is set.
func (t *Tree) readKey(tx *journal.Tx, node region.Offset) (proplist.Value, error) {
	extBuf, err := tx.Read(region.TreeNodes, node+fExtFlag, 1)
	if err != nil {
		return proplist.Value{}, err
	}
	if extBuf[0] == 1 {
		desc, err := tx.Read(region.TreeNodes, node+fKeyData, externalKeyDescSize)
		if err != nil {
			return proplist.Value{}, err
		}
		arenaOff := region.Offset(binary.LittleEndian.Uint64(desc[1:9]))
		length := binary.LittleEndian.Uint32(desc[9:13])
		data, err := tx.Read(region.Arena, arenaOff, int(length))
		if err != nil {
			return proplist.Value{}, err
		}
		return proplist.DecodeValue(t.keyKind, data)
	}
	lenBuf, err := tx.Read(region.TreeNodes, node+fKeyLen, 2)
	if err != nil {
		return proplist.Value{}, err
	}
	length := binary.LittleEndian.Uint16(lenBuf)
	data, err := tx.Read(region.TreeNodes, node+fKeyData, int(length))
	if err != nil {
		return proplist.Value{}, err
	}
	return proplist.DecodeValue(t.keyKind, data)
}

// writeKey installs v into a freshly allocated node; v's Kind must equal
// t.keyKind. String/Blob values wider than keyAreaSize overflow to the
// arena, using shard 0 (index keys are not sharded by property key the
// way proplist's external values are, since a tree already hashes its
// keys structurally via comparison order, not by shard).
func (t *Tree) writeKey(tx *journal.Tx, node region.Offset, v proplist.Value) error {
	inline, err := proplist.EncodeValue(v)
	if err != nil {
		return err
	}
	if err := tx.PutByte(region.TreeNodes, node+fKind, byte(v.Kind)); err != nil {
		return err
	}
	if len(inline) <= keyAreaSize {
		if err := tx.PutByte(region.TreeNodes, node+fExtFlag, 0); err != nil {
			return err
		}
		if err := tx.PutUint16(region.TreeNodes, node+fKeyLen, uint16(len(inline))); err != nil {
			return err
		}
		return tx.Write(region.TreeNodes, node+fKeyData, inline)
	}
	arenaOff, err := t.arena.Alloc(tx, 0, uint64(len(inline)))
	if err != nil {
		return err
	}
	if err := tx.Write(region.Arena, arenaOff, inline); err != nil {
		return err
	}
	desc := make([]byte, externalKeyDescSize)
	desc[0] = 0
	binary.LittleEndian.PutUint64(desc[1:9], uint64(arenaOff))
	binary.LittleEndian.PutUint32(desc[9:13], uint32(len(inline)))
	if err := tx.PutByte(region.TreeNodes, node+fExtFlag, 1); err != nil {
		return err
	}
	dataLen := len(inline)
	tx.OnAbort(func() { _ = t.arena.Free(tx, 0, arenaOff, uint64(dataLen)) })
	return tx.Write(region.TreeNodes, node+fKeyData, desc)
}

func (t *Tree) freeKeyStorage(tx *journal.Tx, node region.Offset) error {
	extBuf, err := tx.Read(region.TreeNodes, node+fExtFlag, 1)
	if err != nil {
		return err
	}
	if extBuf[0] != 1 {
		return nil
	}
	desc, err := tx.Read(region.TreeNodes, node+fKeyData, externalKeyDescSize)
	if err != nil {
		return err
	}
	arenaOff := region.Offset(binary.LittleEndian.Uint64(desc[1:9]))
	length := uint64(binary.LittleEndian.Uint32(desc[9:13]))
	return t.arena.Free(tx, 0, arenaOff, length)
}

func balanceFactor(leftH, rightH int) int { return leftH - rightH }

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// allocNode allocates and zero-initialises a fresh TreeNode with the given
// parent and key, bucket header empty.
func (t *Tree) allocNode(tx *journal.Tx, parent region.Offset, key proplist.Value, pageSize uint64) (region.Offset, error) {
	node, err := t.nodes.Alloc(tx, pageSize)
	if err != nil {
		return 0, err
	}
	zero := make([]byte, nodeObjectSize)
	if err := tx.Write(region.TreeNodes, node, zero); err != nil {
		return 0, err
	}
	if err := t.writeOffsetField(tx, node, fParent, parent); err != nil {
		return 0, err
	}
	if err := t.writeHeight(tx, node, 1); err != nil {
		return 0, err
	}
	if err := t.writeKey(tx, node, key); err != nil {
		return 0, err
	}
	return node, nil
}

// Find returns the node offset holding key, or ok=false.
func (t *Tree) Find(tx *journal.Tx, rootField region.Offset, key proplist.Value) (node region.Offset, ok bool, err error) {
	cur, err := t.readRoot(tx, rootField)
	if err != nil {
		return 0, false, err
	}
	for cur != 0 {
		k, err := t.readKey(tx, cur)
		if err != nil {
			return 0, false, err
		}
		c := proplist.Compare(key, k)
		switch {
		case c == 0:
			return cur, true, nil
		case c < 0:
			cur, err = t.readOffsetField(tx, cur, fLeft)
		default:
			cur, err = t.readOffsetField(tx, cur, fRight)
		}
		if err != nil {
			return 0, false, err
		}
	}
	return 0, false, nil
}

// FindBucket locates the bucket header for key, for callers that only
// need the chunk-list location (not the raw node offset Find returns).
func (t *Tree) FindBucket(tx *journal.Tx, rootField region.Offset, key proplist.Value) (bucketBase region.Offset, found bool, err error) {
	node, found, err := t.Find(tx, rootField, key)
	if err != nil || !found {
		return 0, found, err
	}
	return node + fBucket, true, nil
}

// InsertKey finds or creates the tree node for key, returning its bucket
// header location (node+fBucket) for the caller to chunklist.Insert the
// entity offset into.
func (t *Tree) InsertKey(tx *journal.Tx, rootField region.Offset, key proplist.Value, pageSize uint64) (bucketBase region.Offset, err error) {
	root, err := t.readRoot(tx, rootField)
	if err != nil {
		return 0, err
	}
	if root == 0 {
		node, err := t.allocNode(tx, 0, key, pageSize)
		if err != nil {
			return 0, err
		}
		if err := t.writeRoot(tx, rootField, node); err != nil {
			return 0, err
		}
		return node + fBucket, nil
	}

	cur := root
	var parent region.Offset
	goLeft := false
	for cur != 0 {
		k, err := t.readKey(tx, cur)
		if err != nil {
			return 0, err
		}
		c := proplist.Compare(key, k)
		if c == 0 {
			return cur + fBucket, nil
		}
		parent = cur
		if c < 0 {
			goLeft = true
			cur, err = t.readOffsetField(tx, cur, fLeft)
		} else {
			goLeft = false
			cur, err = t.readOffsetField(tx, cur, fRight)
		}
		if err != nil {
			return 0, err
		}
	}

	node, err := t.allocNode(tx, parent, key, pageSize)
	if err != nil {
		return 0, err
	}
	field := fRight
	if goLeft {
		field = fLeft
	}
	if err := t.writeOffsetField(tx, parent, field, node); err != nil {
		return 0, err
	}
	if err := t.rebalanceFrom(tx, rootField, parent); err != nil {
		return 0, err
	}
	return node + fBucket, nil
}

// RemoveNode deletes the tree node at key entirely (called once its
// bucket has become empty, per spec.md: "when the last element is erased
// the tree node is removed and the tree is rebalanced").
func (t *Tree) RemoveNode(tx *journal.Tx, rootField region.Offset, key proplist.Value) error {
	node, found, err := t.Find(tx, rootField, key)
	if err != nil {
		return err
	}
	if !found {
		return pgerr.Newf(pgerr.NotFound, "index key not present")
	}
	return t.removeNodeAt(tx, rootField, node)
}

func (t *Tree) removeNodeAt(tx *journal.Tx, rootField, node region.Offset) error {
	left, err := t.readOffsetField(tx, node, fLeft)
	if err != nil {
		return err
	}
	right, err := t.readOffsetField(tx, node, fRight)
	if err != nil {
		return err
	}

	if left != 0 && right != 0 {
		// Find in-order successor (min of right subtree), copy its key
		// and bucket into node, then delete the successor instead (which
		// has at most one child).
		succ := right
		for {
			succLeft, err := t.readOffsetField(tx, succ, fLeft)
			if err != nil {
				return err
			}
			if succLeft == 0 {
				break
			}
			succ = succLeft
		}
		succKey, err := t.readKey(tx, succ)
		if err != nil {
			return err
		}
		if err := t.freeKeyStorage(tx, node); err != nil {
			return err
		}
		if err := t.writeKey(tx, node, succKey); err != nil {
			return err
		}
		succBucket, err := tx.Read(region.TreeNodes, succ+fBucket, chunklist.HeaderSize)
		if err != nil {
			return err
		}
		if err := tx.Write(region.TreeNodes, node+fBucket, succBucket); err != nil {
			return err
		}
		return t.removeNodeAt(tx, rootField, succ)
	}

	child := left
	if child == 0 {
		child = right
	}
	parent, err := t.readOffsetField(tx, node, fParent)
	if err != nil {
		return err
	}
	if child != 0 {
		if err := t.writeOffsetField(tx, child, fParent, parent); err != nil {
			return err
		}
	}
	if parent == 0 {
		if err := t.writeRoot(tx, rootField, child); err != nil {
			return err
		}
	} else {
		parentLeft, err := t.readOffsetField(tx, parent, fLeft)
		if err != nil {
			return err
		}
		field := fRight
		if parentLeft == node {
			field = fLeft
		}
		if err := t.writeOffsetField(tx, parent, field, child); err != nil {
			return err
		}
	}
	if err := t.freeKeyStorage(tx, node); err != nil {
		return err
	}
	if err := t.nodes.Free(tx, node); err != nil {
		return err
	}
	return t.rebalanceFrom(tx, rootField, parent)
}

// rebalanceFrom walks from node up to the root, fixing heights and
// performing AVL rotations, after an insert or delete changed the
// subtree rooted at node.
func (t *Tree) rebalanceFrom(tx *journal.Tx, rootField region.Offset, node region.Offset) error {
	for node != 0 {
		left, err := t.readOffsetField(tx, node, fLeft)
		if err != nil {
			return err
		}
		right, err := t.readOffsetField(tx, node, fRight)
		if err != nil {
			return err
		}
		leftH, err := t.readHeight(tx, left)
		if err != nil {
			return err
		}
		rightH, err := t.readHeight(tx, right)
		if err != nil {
			return err
		}
		if err := t.writeHeight(tx, node, 1+maxInt(leftH, rightH)); err != nil {
			return err
		}

		bf := balanceFactor(leftH, rightH)
		switch {
		case bf > 1:
			lLeft, err := t.readOffsetField(tx, left, fLeft)
			if err != nil {
				return err
			}
			lRight, err := t.readOffsetField(tx, left, fRight)
			if err != nil {
				return err
			}
			lLeftH, err := t.readHeight(tx, lLeft)
			if err != nil {
				return err
			}
			lRightH, err := t.readHeight(tx, lRight)
			if err != nil {
				return err
			}
			if lLeftH < lRightH {
				if err := t.rotateLeft(tx, left); err != nil {
					return err
				}
			}
			if err := t.rotateRight(tx, node); err != nil {
				return err
			}
			node, err = t.readOffsetField(tx, node, fParent)
			if err != nil {
				return err
			}
			// node has moved down; continue from its new parent, which
			// is the rotation pivot now occupying node's former slot.
			continue
		case bf < -1:
			rLeft, err := t.readOffsetField(tx, right, fLeft)
			if err != nil {
				return err
			}
			rRight, err := t.readOffsetField(tx, right, fRight)
			if err != nil {
				return err
			}
			rLeftH, err := t.readHeight(tx, rLeft)
			if err != nil {
				return err
			}
			rRightH, err := t.readHeight(tx, rRight)
			if err != nil {
				return err
			}
			if rRightH < rLeftH {
				if err := t.rotateRight(tx, right); err != nil {
					return err
				}
			}
			if err := t.rotateLeft(tx, node); err != nil {
				return err
			}
			node, err = t.readOffsetField(tx, node, fParent)
			if err != nil {
				return err
			}
			continue
		}

		parent, err := t.readOffsetField(tx, node, fParent)
		if err != nil {
			return err
		}
		if parent == 0 {
			// node is now the topmost node; after a rotation at the old
			// root it is the pivot, which the root field must name.
			root, err := t.readRoot(tx, rootField)
			if err != nil || root == node {
				return err
			}
			return t.writeRoot(tx, rootField, node)
		}
		node = parent
	}
	return nil
}

// rotateLeft rotates node down-left, promoting node.right. Updates the
// root field's parent link through the caller's rebalance loop (the
// pivot's own parent link is repointed at node's former parent here).
func (t *Tree) rotateLeft(tx *journal.Tx, node region.Offset) error {
	pivot, err := t.readOffsetField(tx, node, fRight)
	if err != nil {
		return err
	}
	pivotLeft, err := t.readOffsetField(tx, pivot, fLeft)
	if err != nil {
		return err
	}
	parent, err := t.readOffsetField(tx, node, fParent)
	if err != nil {
		return err
	}

	if err := t.writeOffsetField(tx, node, fRight, pivotLeft); err != nil {
		return err
	}
	if pivotLeft != 0 {
		if err := t.writeOffsetField(tx, pivotLeft, fParent, node); err != nil {
			return err
		}
	}
	if err := t.writeOffsetField(tx, pivot, fLeft, node); err != nil {
		return err
	}
	if err := t.writeOffsetField(tx, node, fParent, pivot); err != nil {
		return err
	}
	if err := t.writeOffsetField(tx, pivot, fParent, parent); err != nil {
		return err
	}
	if parent != 0 {
		parentLeft, err := t.readOffsetField(tx, parent, fLeft)
		if err != nil {
			return err
		}
		field := fRight
		if parentLeft == node {
			field = fLeft
		}
		if err := t.writeOffsetField(tx, parent, field, pivot); err != nil {
			return err
		}
	}
	return t.fixHeight(tx, node)
}

func (t *Tree) rotateRight(tx *journal.Tx, node region.Offset) error {
	pivot, err := t.readOffsetField(tx, node, fLeft)
	if err != nil {
		return err
	}
	pivotRight, err := t.readOffsetField(tx, pivot, fRight)
	if err != nil {
		return err
	}
	parent, err := t.readOffsetField(tx, node, fParent)
	if err != nil {
		return err
	}

	if err := t.writeOffsetField(tx, node, fLeft, pivotRight); err != nil {
		return err
	}
	if pivotRight != 0 {
		if err := t.writeOffsetField(tx, pivotRight, fParent, node); err != nil {
			return err
		}
	}
	if err := t.writeOffsetField(tx, pivot, fRight, node); err != nil {
		return err
	}
	if err := t.writeOffsetField(tx, node, fParent, pivot); err != nil {
		return err
	}
	if err := t.writeOffsetField(tx, pivot, fParent, parent); err != nil {
		return err
	}
	if parent != 0 {
		parentLeft, err := t.readOffsetField(tx, parent, fLeft)
		if err != nil {
			return err
		}
		field := fRight
		if parentLeft == node {
			field = fLeft
		}
		if err := t.writeOffsetField(tx, parent, field, pivot); err != nil {
			return err
		}
	}
	return t.fixHeight(tx, node)
}

func (t *Tree) fixHeight(tx *journal.Tx, node region.Offset) error {
	left, err := t.readOffsetField(tx, node, fLeft)
	if err != nil {
		return err
	}
	right, err := t.readOffsetField(tx, node, fRight)
	if err != nil {
		return err
	}
	leftH, err := t.readHeight(tx, left)
	if err != nil {
		return err
	}
	rightH, err := t.readHeight(tx, right)
	if err != nil {
		return err
	}
	return t.writeHeight(tx, node, 1+maxInt(leftH, rightH))
}

// Entry pairs a decoded key with the bucket header location
// owned by its tree node, for range/in-order traversal.
type Entry struct {
	Key        proplist.Value
	BucketBase region.Offset
}

// InOrder returns every (key, bucket) pair whose key falls within
// [lower, upper] per the exclusivity flags, in ascending order unless
// reverse is set. lowerOK/upperOK false means unbounded on that side.
func (t *Tree) InOrder(tx *journal.Tx, rootField region.Offset, lower proplist.Value, lowerExcl, lowerOK bool, upper proplist.Value, upperExcl, upperOK bool, reverse bool) ([]Entry, error) {
	root, err := t.readRoot(tx, rootField)
	if err != nil {
		return nil, err
	}
	var out []Entry
	var walk func(node region.Offset) error
	walk = func(node region.Offset) error {
		if node == 0 {
			return nil
		}
		key, err := t.readKey(tx, node)
		if err != nil {
			return err
		}
		left, err := t.readOffsetField(tx, node, fLeft)
		if err != nil {
			return err
		}
		right, err := t.readOffsetField(tx, node, fRight)
		if err != nil {
			return err
		}

		belowLower := lowerOK && func() bool {
			c := proplist.Compare(key, lower)
			if lowerExcl {
				return c <= 0
			}
			return c < 0
		}()
		aboveUpper := upperOK && func() bool {
			c := proplist.Compare(key, upper)
			if upperExcl {
				return c >= 0
			}
			return c > 0
		}()

		first, second := left, right
		if reverse {
			first, second = right, left
		}
		// Only descend into a subtree that could hold in-range keys: the
		// left subtree is all-less, the right subtree all-greater, so a
		// key already below the lower bound means only its right
		// subtree can still qualify, and symmetrically above the upper
		// bound.
		visitFirst, visitSelf, visitSecond := true, true, true
		if !reverse {
			if belowLower {
				visitFirst = false // first==left here
			}
			if aboveUpper {
				visitSecond = false // second==right
			}
		} else {
			if aboveUpper {
				visitFirst = false // first==right
			}
			if belowLower {
				visitSecond = false // second==left
			}
		}
		if visitFirst {
			if err := walk(first); err != nil {
				return err
			}
		}
		if visitSelf && !belowLower && !aboveUpper {
			out = append(out, Entry{Key: key, BucketBase: node + fBucket})
		}
		if visitSecond {
			if err := walk(second); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(root); err != nil {
		return nil, err
	}
	return out, nil
}

// Stats reports the node count and height of the tree rooted at rootField,
// for C11.
func (t *Tree) Stats(tx *journal.Tx, rootField region.Offset) (count, height int, err error) {
	root, err := t.readRoot(tx, rootField)
	if err != nil {
		return 0, 0, err
	}
	h, err := t.readHeight(tx, root)
	if err != nil {
		return 0, 0, err
	}
	entries, err := t.InOrder(tx, rootField, proplist.Value{}, false, false, proplist.Value{}, false, false, false)
	if err != nil {
		return 0, 0, err
	}
	return len(entries), h, nil
}
