package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hugefs/hugefs/internal/hugecontrol"
)

// controlFileName matches internal/hugefs's reserved pseudo-file name;
// duplicated here rather than imported since cmd/hugefs deliberately
// never links the fuse server package's inode machinery into the
// control-channel client binary path.
const controlFileName = ".hugefsctl1"

// sendControlRequest opens the mount's control pseudo-file, writes req
// as one newline-terminated JSON line, and reads back the response
// line, decoding it into a map so callers can inspect whichever
// payload field the "type" discriminant names.
func sendControlRequest(mountPoint string, req hugecontrol.Request) (map[string]any, error) {
	path := filepath.Join(mountPoint, controlFileName)

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening control file %s: %w", path, err)
	}
	defer f.Close()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshalling control request: %w", err)
	}
	if _, err := f.Write(append(body, '\n')); err != nil {
		return nil, fmt.Errorf("writing control request: %w", err)
	}
	// The server slices its response by read offset, so read it from
	// the start rather than from where the request write left off.
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewinding control file: %w", err)
	}

	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("reading control response: %w", err)
	}

	var resp map[string]any
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		return nil, fmt.Errorf("decoding control response: %w", err)
	}
	if errMsg, ok := resp["msg"]; ok && resp["type"] == "error" {
		return nil, fmt.Errorf("control error: %v", errMsg)
	}
	return resp, nil
}
