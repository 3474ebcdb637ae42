package fsm

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
)

// ReadFile loads a graph from path, in binary form if the file starts with
// the <Fsm> marker and in text form otherwise.
func ReadFile(path string) (*Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	head, err := br.Peek(len(tokenFsm))
	if err != nil && len(head) == 0 {
		return nil, fmt.Errorf("%w: %s: %v", ErrFormat, path, err)
	}

	var g Graph
	if bytes.Equal(head, []byte(tokenFsm)) {
		err = g.Load(br)
	} else {
		err = g.LoadFromString(br)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return &g, nil
}

// WriteFile dumps g to path in binary form.
func (g *Graph) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := g.Dump(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
