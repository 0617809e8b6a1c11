package bplus

import (
	"bytes"
	"slices"
	"sort"
)

// binarySearch returns the position of target in keys, or -1.
func binarySearch(keys [][]byte, target []byte, cmp func(a, b []byte) int) int {
	if i, found := slices.BinarySearchFunc(keys, target, cmp); found {
		return i
	}
	return -1
}

// lowerBound returns the first position whose key is >= target.
func lowerBound(keys [][]byte, target []byte, cmp func(a, b []byte) int) int {
	i, _ := slices.BinarySearchFunc(keys, target, cmp)
	return i
}

// upperBound returns the first position whose key is > target. For an
// internal node that is the index of the child to descend into.
func upperBound(keys [][]byte, target []byte, cmp func(a, b []byte) int) int {
	return sort.Search(len(keys), func(i int) bool {
		return cmp(keys[i], target) > 0
	})
}

func insert[T any](s []T, i int, elem T) []T {
	return slices.Insert(s, i, elem)
}

func remove[T any](s []T, i int) []T {
	return slices.Delete(s, i, i+1)
}

func cloneBytes(b []byte) []byte {
	return bytes.Clone(b)
}
