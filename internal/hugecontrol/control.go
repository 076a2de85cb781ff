// Package hugecontrol implements the JSON control channel served
// through the pseudo-inode at the mount root's ".hugefsctl1" file:
// a newline-delimited request/response protocol for Status, Mirror and
// Finalize, grounded on control.rs's handle_message dispatch.
package hugecontrol

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/hugefs/hugefs/internal/hugecatalog"
	"github.com/hugefs/hugefs/internal/hugeerr"
	"github.com/hugefs/hugefs/internal/hugeio"
	"github.com/hugefs/hugefs/internal/hugemetrics"
	"github.com/hugefs/hugefs/internal/hugestate"
	"github.com/hugefs/hugefs/internal/hugestore"
	"github.com/hugefs/hugefs/internal/hugetrace"
)

// Request is the tagged union of control requests. Exactly one of
// Status, Mirror or Finalize is non-nil.
type Request struct {
	Status   *StatusRequest   `json:"Status,omitempty"`
	Mirror   *MirrorRequest   `json:"Mirror,omitempty"`
	Finalize *FinalizeRequest `json:"Finalize,omitempty"`
}

type StatusRequest struct {
	Path string `json:"path"`
}

type MirrorRequest struct {
	Path  string `json:"path"`
	Store string `json:"store"`
}

type FinalizeRequest struct {
	Path string `json:"path"`
}

// Response is the tagged union of control responses, marshalled with
// an explicit "type" discriminant so clients needn't guess which of
// the pointer fields is populated.
type Response struct {
	Type     string            `json:"type"`
	Error    string            `json:"msg,omitempty"`
	Status   *StatusResponse   `json:"-"`
	Mirror   *MirrorResponse   `json:"-"`
	Finalize *FinalizeResponse `json:"-"`
}

// MarshalJSON flattens whichever payload is set alongside the Type
// discriminant, mirroring control.rs's #[serde(tag = "type")] shape.
func (r Response) MarshalJSON() ([]byte, error) {
	switch r.Type {
	case "error":
		return json.Marshal(struct {
			Type string `json:"type"`
			Msg  string `json:"msg"`
		}{r.Type, r.Error})
	case "status":
		return json.Marshal(struct {
			Type string `json:"type"`
			*StatusResponse
		}{r.Type, r.Status})
	case "mirror":
		return json.Marshal(struct {
			Type string `json:"type"`
			*MirrorResponse
		}{r.Type, r.Mirror})
	case "finalize":
		return json.Marshal(struct {
			Type string `json:"type"`
			*FinalizeResponse
		}{r.Type, r.Finalize})
	default:
		return nil, fmt.Errorf("control: response has no type set")
	}
}

type StatusResponse struct {
	Ino  uint64   `json:"ino"`
	Info FileType `json:"info"`
}

type MirrorResponse struct {
	// From is the URL of the store the content was copied from, or
	// empty if the destination store already had it.
	From string `json:"from"`
}

type FinalizeResponse struct{}

// FileType is the tagged description of an inode returned by Status,
// matching control.rs's FileType enum and its "directory" / "mutable"
// / "immutable" / "symlink" tag strings exactly.
type FileType struct {
	Type string `json:"type"`

	// Length is set when Type == "mutable" or "immutable"; the ID
	// only when Type == "mutable".
	Length        uint64                  `json:"length,omitempty"`
	MutableFileID hugestore.MutableFileID `json:"id,omitempty"`

	// Set when Type == "immutable".
	Hash   string   `json:"hash,omitempty"`
	Stores []string `json:"stores,omitempty"`
}

func fileTypeOf(ctx context.Context, state *hugestate.State, st hugecatalog.Stat) (FileType, error) {
	switch st.Kind {
	case hugecatalog.KindDirectory:
		return FileType{Type: "directory"}, nil
	case hugecatalog.KindMutableRegular:
		return FileType{Type: "mutable", Length: st.Length, MutableFileID: st.MutableFileID}, nil
	case hugecatalog.KindImmutableRegular:
		stores, err := state.WhichStoresHave(ctx, st.Hash)
		if err != nil {
			return FileType{}, err
		}
		return FileType{Type: "immutable", Length: st.Length, Hash: st.Hash.Hex(), Stores: stores}, nil
	case hugecatalog.KindSymlink:
		return FileType{Type: "symlink"}, nil
	default:
		return FileType{}, hugeerr.New(hugeerr.KindControlMisc, "unknown inode kind")
	}
}

// HandleSession reads one newline-terminated JSON request from r,
// dispatches it against state, and writes one JSON response
// (terminated by a newline) to w. It never returns a transport error
// for a malformed or failed request: those are reported as a
// Response{Type: "error", ...} so the client always gets a reply.
func HandleSession(ctx context.Context, state *hugestate.State, r io.Reader, w io.Writer) error {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return fmt.Errorf("reading control request: %w", err)
	}

	resp := dispatch(ctx, state, line)

	enc := json.NewEncoder(w)
	return enc.Encode(resp)
}

// Handle dispatches one newline-terminated JSON request (given as raw
// bytes, e.g. accumulated from successive fuse Write calls against
// the control pseudo-file) and returns the marshalled, newline
// terminated response. Unlike HandleSession it never returns a
// transport error: a malformed request simply produces an error
// Response.
func Handle(ctx context.Context, state *hugestate.State, request []byte) []byte {
	resp := dispatch(ctx, state, string(request))
	body, err := json.Marshal(resp)
	if err != nil {
		body, _ = json.Marshal(errorResponse(hugeerr.Wrap(hugeerr.KindControlMisc, "marshalling response", err)))
	}
	return append(body, '\n')
}

func dispatch(ctx context.Context, state *hugestate.State, line string) Response {
	var req Request
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		return errorResponse(hugeerr.New(hugeerr.KindBadControlRequest, err.Error()))
	}

	opName := opNameOf(req)
	ctx, span := hugetrace.Span(ctx, "control."+opName)

	timer := hugemetrics.Start(opName)
	var resp Response
	var err error
	defer func() { hugetrace.End(span, err) }()

	switch {
	case req.Status != nil:
		var sr *StatusResponse
		sr, err = handleStatus(ctx, state, req.Status)
		if err == nil {
			resp = Response{Type: "status", Status: sr}
		}
	case req.Mirror != nil:
		var mr *MirrorResponse
		mr, err = handleMirror(ctx, state, req.Mirror)
		if err == nil {
			resp = Response{Type: "mirror", Mirror: mr}
		}
	case req.Finalize != nil:
		var fr *FinalizeResponse
		fr, err = handleFinalize(ctx, state, req.Finalize)
		if err == nil {
			resp = Response{Type: "finalize", Finalize: fr}
		}
	default:
		err = hugeerr.New(hugeerr.KindBadControlRequest, "request names no operation")
	}

	timer.Observe(err)
	if err != nil {
		return errorResponse(err)
	}
	return resp
}

func opNameOf(req Request) string {
	switch {
	case req.Status != nil:
		return hugemetrics.OpControlStatus
	case req.Mirror != nil:
		return hugemetrics.OpControlMirror
	case req.Finalize != nil:
		return hugemetrics.OpControlFinalize
	default:
		return hugemetrics.OpControlStatus
	}
}

func errorResponse(err error) Response {
	return Response{Type: "error", Error: err.Error()}
}

func handleStatus(ctx context.Context, state *hugestate.State, req *StatusRequest) (*StatusResponse, error) {
	ino, err := state.LookupPath(ctx, req.Path)
	if err != nil {
		return nil, err
	}
	st, err := state.Catalog.Stat(ctx, ino)
	if err != nil {
		return nil, err
	}
	info, err := fileTypeOf(ctx, state, st)
	if err != nil {
		return nil, err
	}
	return &StatusResponse{Ino: uint64(ino), Info: info}, nil
}

// handleMirror copies an immutable file's content into the named
// destination store, searching the other configured stores for a
// source that has it. This completes control.rs's handle_mirror,
// which the original left unimplemented.
func handleMirror(ctx context.Context, state *hugestate.State, req *MirrorRequest) (*MirrorResponse, error) {
	ino, err := state.LookupPath(ctx, req.Path)
	if err != nil {
		return nil, err
	}
	st, err := state.Catalog.Stat(ctx, ino)
	if err != nil {
		return nil, err
	}
	if st.Kind != hugecatalog.KindImmutableRegular {
		return nil, hugeerr.New(hugeerr.KindNotImmutableFile, req.Path)
	}

	dst, ok := state.StoreByURL(req.Store)
	if !ok {
		return nil, hugeerr.New(hugeerr.KindUnknownStore, req.Store)
	}

	has, err := dst.Has(ctx, st.Hash)
	if err != nil {
		return nil, err
	}
	if has {
		return &MirrorResponse{From: ""}, nil
	}

	for _, src := range state.Stores {
		if src.URL() == dst.URL() {
			continue
		}
		srcHas, err := src.Has(ctx, st.Hash)
		if err != nil {
			return nil, err
		}
		if !srcHas {
			continue
		}
		mirrorCtx, span := hugetrace.Span(ctx, "store.mirror")
		copyErr := hugeio.CopyFile(mirrorCtx, st.Hash, st.Length, src, dst)
		hugetrace.End(span, copyErr)
		if copyErr != nil {
			if hugeerr.KindOf(copyErr) == hugeerr.KindNoSuchHash {
				continue
			}
			return nil, copyErr
		}
		return &MirrorResponse{From: src.URL()}, nil
	}

	return nil, hugeerr.New(hugeerr.KindNoSuchHash, st.Hash.Hex())
}

func handleFinalize(ctx context.Context, state *hugestate.State, req *FinalizeRequest) (*FinalizeResponse, error) {
	ino, err := state.LookupPath(ctx, req.Path)
	if err != nil {
		return nil, err
	}
	st, err := state.Catalog.Stat(ctx, ino)
	if err != nil {
		return nil, err
	}
	if st.Kind != hugecatalog.KindMutableRegular {
		return &FinalizeResponse{}, nil
	}

	var finished hugestore.MutableFile
	for _, store := range state.Stores {
		f, ok, err := store.OpenFile(ctx, st.MutableFileID)
		if err != nil {
			return nil, err
		}
		if ok {
			finished = f
			break
		}
	}
	if finished == nil {
		return nil, hugeerr.New(hugeerr.KindNoSuchMutableFile, string(st.MutableFileID))
	}
	defer finished.Close()

	length, hash, err := finished.Finish(ctx)
	if err != nil {
		return nil, err
	}
	if length != st.Length {
		return nil, hugeerr.New(hugeerr.KindControlMisc,
			fmt.Sprintf("finalize: catalog length %d does not match store length %d", st.Length, length))
	}

	if err := state.Catalog.Finalize(ctx, ino, length, hash); err != nil {
		return nil, err
	}

	return &FinalizeResponse{}, nil
}
