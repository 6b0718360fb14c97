package writer

import (
	"crypto/rand"
	"math/big"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// newChunkID generates a base36 time+random chunk identifier (§4.7): a
// millisecond timestamp followed by 40 bits of randomness, both base36
// encoded, so chunk IDs sort roughly chronologically while still being
// collision-resistant across concurrent writers.
func newChunkID(now func() time.Time) (string, error) {
	ms := now().UnixMilli()
	randBytes := make([]byte, 5)
	if _, err := rand.Read(randBytes); err != nil {
		return "", err
	}
	randPart := new(big.Int).SetBytes(randBytes).Text(36)
	return strconv.FormatInt(ms, 36) + randPart, nil
}

// chunkPath derives the §4.7 chunk object key: the namespace's host,
// reversed into dotted-path segments (so objects for a given domain sort
// and prefix-list together the way a reversed-DNS directory layout does),
// followed by "_chunks/{id}.gcol".
func chunkPath(namespace, chunkID string) (string, error) {
	u, err := url.Parse(namespace)
	if err != nil || u.Hostname() == "" {
		return "_chunks/" + chunkID + ".gcol", nil
	}
	labels := strings.Split(u.Hostname(), ".")
	for i, j := 0, len(labels)-1; i < j; i, j = i+1, j-1 {
		labels[i], labels[j] = labels[j], labels[i]
	}
	return strings.Join(labels, "/") + "/_chunks/" + chunkID + ".gcol", nil
}

// bloomPath derives the job-level combined membership index's object key.
func bloomPath(namespace, jobID string) (string, error) {
	u, err := url.Parse(namespace)
	if err != nil || u.Hostname() == "" {
		return "_index/" + jobID + ".bloom.json", nil
	}
	labels := strings.Split(u.Hostname(), ".")
	for i, j := 0, len(labels)-1; i < j; i, j = i+1, j-1 {
		labels[i], labels[j] = labels[j], labels[i]
	}
	return strings.Join(labels, "/") + "/_index/" + jobID + ".bloom.json", nil
}
