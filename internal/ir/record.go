package ir

// Record is one typed entity in the local working set.
// ID is the storage key: a local placeholder until a remote insert assigns
// the authoritative id.
type Record struct {
	Type   string   `json:"type"`
	ID     int64    `json:"id"`
	Fields IRObject `json:"fields"`
}

// LookupField describes a field that references another entity by id.
//
// Static lookups target TargetList, or the field's own Name when TargetList
// is empty. Virtual lookups target either a fixed TargetList or the list
// named by the record's DynamicTargetField.
type LookupField struct {
	Name               string `json:"name"`
	Virtual            bool   `json:"virtual,omitempty"`
	TargetList         string `json:"target_list,omitempty"`
	DynamicTargetField string `json:"dynamic_target_field,omitempty"`
}

// IsDynamic reports whether the target list is read from the record.
func (f LookupField) IsDynamic() bool {
	return f.Virtual && f.DynamicTargetField != ""
}

// StaticTarget returns the fixed target list for non-dynamic lookups.
func (f LookupField) StaticTarget() string {
	if f.TargetList != "" {
		return f.TargetList
	}
	if f.Virtual {
		return ""
	}
	return f.Name
}

// TypeSchema is the declared metadata for one entity type.
type TypeSchema struct {
	Name      string        `json:"name"`
	DoNotSync bool          `json:"do_not_sync,omitempty"`
	Lookups   []LookupField `json:"lookups,omitempty"`
}

// AttachmentType distinguishes item attachments from library documents.
type AttachmentType string

const (
	// AttachmentItem is tied to one entity via ListName and ParentID.
	AttachmentItem AttachmentType = "Attachment"
	// AttachmentDocLib lives in a library folder and may carry a snapshot
	// of an associated entity.
	AttachmentDocLib AttachmentType = "DocLib"
)

// FileState records where a file's content lives after upload.
type FileState string

const (
	FileLocal  FileState = "Local"
	FileServer FileState = "Server"
)

// FileMeta describes a stored blob.
type FileMeta struct {
	ID             string         `json:"id"`
	AttachmentType AttachmentType `json:"attachment_type"`
	ListName       string         `json:"list_name,omitempty"`
	ParentID       int64          `json:"parent_id,omitempty"`
	Folder         string         `json:"folder,omitempty"`
	Filename       string         `json:"filename"`
	ContentType    string         `json:"content_type,omitempty"`
	Size           int64          `json:"size"`
	State          FileState      `json:"state"`

	// SnapshotType names the entity type serialized in
	// AdditionalInformation.
	SnapshotType          string `json:"snapshot_type,omitempty"`
	AdditionalInformation string `json:"additional_information,omitempty"`
}

// HasSnapshot reports whether the file carries a serialized entity.
func (f FileMeta) HasSnapshot() bool {
	return f.AdditionalInformation != ""
}
