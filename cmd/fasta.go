package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/okian/protofold/internal/domain/model"
)

// readQueries parses query sequences from the given FASTA files. Input
// without headers is accepted and named sequence_1, sequence_2, ... in
// submission order. Whitespace inside sequence data is rejected rather
// than normalized.
func readQueries(paths []string) ([]model.Query, error) {
	var (
		queries []model.Query
		unnamed int
	)
	for _, path := range paths {
		qs, err := parseQueryFile(path, &unnamed)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		queries = append(queries, qs...)
	}
	return queries, nil
}

func parseQueryFile(path string, unnamed *int) ([]model.Query, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var (
		queries []model.Query
		id      string
		seq     strings.Builder
		started bool
	)

	flush := func() error {
		if !started {
			return nil
		}
		if id == "" {
			*unnamed++
			id = fmt.Sprintf("sequence_%d", *unnamed)
		}
		if seq.Len() == 0 {
			return fmt.Errorf("entry %q has no sequence data", id)
		}
		queries = append(queries, model.Query{ID: id, Sequence: seq.String()})
		id = ""
		seq.Reset()
		started = false
		return nil
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if strings.HasPrefix(line, ">") {
			if err := flush(); err != nil {
				return nil, err
			}
			fields := strings.Fields(strings.TrimPrefix(line, ">"))
			if len(fields) > 0 {
				id = fields[0]
			}
			started = true
			continue
		}
		// Headerless input: the bare sequence starts an unnamed entry.
		if !started {
			started = true
		}
		if strings.ContainsAny(line, " \t") {
			return nil, fmt.Errorf("sequence data contains whitespace: %q", line)
		}
		seq.WriteString(line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return queries, nil
}
