package config

import (
	"bufio"
	"errors"
	"os"
	"strings"
)

// Pool is an ordered, 0-indexed snapshot of the IPv6 address pool.
// Duplicates are preserved; callers never mutate a Pool after LoadPool
// returns it.
type Pool []string

// LoadPool reads path, one address per non-empty line, trimmed of
// surrounding whitespace. A missing file yields an empty pool, not an
// error: the IP-pool file is populated by an external collaborator and may
// not exist yet.
func LoadPool(path string) (Pool, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Pool{}, nil
		}
		return nil, err
	}
	defer f.Close()

	var pool Pool
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		pool = append(pool, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return pool, nil
}
