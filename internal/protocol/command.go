package protocol

import "github.com/dreamware/depot/internal/cluster"

// Kind identifies a command variant. Its value is the tag byte on the wire.
type Kind byte

const (
	KindListFiles Kind = iota + 1
	KindUpload
	KindDownload
	KindDelete
	KindSearch
	KindJoin
	KindLeave
	KindMembers
)

// kindNames doubles as the set of known tags.
var kindNames = map[Kind]string{
	KindListFiles: "list_files",
	KindUpload:    "upload",
	KindDownload:  "download",
	KindDelete:    "delete",
	KindSearch:    "search",
	KindJoin:      "join",
	KindLeave:     "leave",
	KindMembers:   "members",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Command is a decoded client request. Exactly one variant is carried per
// request; the set of variants is closed.
type Command interface {
	Kind() Kind
	command()
}

// ListFiles asks for every stored name.
type ListFiles struct{}

// Upload stores Data under Name, replacing any previous content.
type Upload struct {
	Name string
	Data []byte
}

// Download fetches the content stored under Name.
type Download struct {
	Name string
}

// Delete removes Name.
type Delete struct {
	Name string
}

// Search asks for the stored names containing Substring.
type Search struct {
	Substring string
}

// Join registers or updates a cluster member.
type Join struct {
	NodeID string
	Addr   string
	Status cluster.Status
}

// Leave removes a cluster member.
type Leave struct {
	NodeID string
}

// Members asks for the membership table.
type Members struct{}

func (ListFiles) Kind() Kind { return KindListFiles }
func (Upload) Kind() Kind    { return KindUpload }
func (Download) Kind() Kind  { return KindDownload }
func (Delete) Kind() Kind    { return KindDelete }
func (Search) Kind() Kind    { return KindSearch }
func (Join) Kind() Kind      { return KindJoin }
func (Leave) Kind() Kind     { return KindLeave }
func (Members) Kind() Kind   { return KindMembers }

func (ListFiles) command() {}
func (Upload) command()    {}
func (Download) command()  {}
func (Delete) command()    {}
func (Search) command()    {}
func (Join) command()      {}
func (Leave) command()     {}
func (Members) command()   {}
