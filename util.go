package multistore

import (
	"context"
	"strconv"
	"strings"
)

type Transaction interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// ParseDBTag parses a column tag of the form
//
//	name,key auto size=64 allownull version
//
// Every flag after the comma is optional; a flag may be written as
// flag=true or flag=false.
func ParseDBTag(value string) (name string, size int, isAuto bool, isKey bool, allowNull bool, isVersion bool) {
	tagArr := strings.SplitN(value, ",", 2)
	if len(tagArr) == 0 {
		return
	}

	checkBool := func(key string, tagarr []string) bool {
		bval := false
		skey := strings.TrimSpace(tagarr[0])
		if !strings.EqualFold(skey, key) {
			return false
		}
		bval = true

		if len(tagarr) > 1 {
			sval := strings.TrimSpace(tagarr[1])
			if strings.EqualFold(sval, "false") {
				bval = false
			}
		}

		return bval
	}

	name = strings.TrimSpace(tagArr[0])
	if len(tagArr) > 1 {
		det := strings.Fields(tagArr[1])
		for _, v := range det {
			varr := strings.Split(v, "=")
			key := strings.TrimSpace(varr[0])

			switch {
			case checkBool("auto", varr):
				isAuto = true
			case checkBool("key", varr):
				isKey = true
			case checkBool("allownull", varr):
				allowNull = true
			case checkBool("version", varr):
				isVersion = true
			case len(varr) > 1 && strings.EqualFold(key, "size"):
				size, _ = strconv.Atoi(varr[1])
			}
		}
	}

	if isKey {
		allowNull = false
	}

	return
}

func Map[In any, Out any](list []In, mapFn func(val In) Out) []Out {
	var newSlice = make([]Out, len(list))
	for i, val := range list {
		newSlice[i] = mapFn(val)
	}

	return newSlice
}

func SliceContains[T comparable](list []T, val T) bool {
	for _, item := range list {
		if item == val {
			return true
		}
	}

	return false
}

func Filter[T any](slice []T, filterFunc func(val T) bool) []T {
	var newSlice []T
	for i, val := range slice {
		if filterFunc(val) {
			newSlice = append(newSlice, slice[i])
		}
	}

	return newSlice
}

// SplitBatch cuts list into consecutive chunks of at most chunk items.
func SplitBatch[T any](list []T, chunk int) [][]T {
	if chunk <= 0 {
		chunk = len(list)
	}

	total := len(list)
	if total == 0 {
		return nil
	}

	batch := total / chunk
	if total%chunk > 0 {
		batch++
	}

	var newList = make([][]T, batch)
	start := 0
	end := chunk
	for i := 0; i < batch; i++ {
		if end > total {
			end = total
		}

		newList[i] = list[start:end]
		start += chunk
		end += chunk
	}

	return newList
}
