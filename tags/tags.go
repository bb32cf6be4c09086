// Package tags manages the entity tags that can be attached to clients,
// plans and other CommCell entities.
package tags

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/juju/errors"

	"github.com/Commvault/cvpysdk-sub002/commcell"
	"github.com/Commvault/cvpysdk-sub002/namemap"
	"github.com/Commvault/cvpysdk-sub002/sdkerrors"
)

// DefaultTagSetID is the tag set used until the first list call reports the
// CommCell's own.
const DefaultTagSetID = -1

// Tags is the collection of entity tags.
type Tags struct {
	cc    *commcell.Commcell
	cache *namemap.Cache[string]

	mu       sync.Mutex
	tagSetID int
}

// NewTags returns the tag collection. The list is fetched on first use.
func NewTags(cc *commcell.Commcell) *Tags {
	t := &Tags{cc: cc, tagSetID: DefaultTagSetID}
	t.cache = namemap.NewCache("entity_tags", cc.CacheTTL(), t.load)
	return t
}

func (t *Tags) load(ctx context.Context) (namemap.Map[string], error) {
	var body struct {
		TagSetInfo *struct {
			ID commcell.FlexInt `json:"id"`
		} `json:"tagSetInfo"`
		Tags []struct {
			ID   commcell.FlexInt `json:"id"`
			Name string           `json:"name"`
		} `json:"tags"`
	}
	if err := t.cc.GetJSON(ctx, commcell.EntityTags.URL(), &body); err != nil {
		return namemap.Map[string]{}, err
	}
	if body.TagSetInfo == nil {
		return namemap.Map[string]{}, sdkerrors.EmptyResponse()
	}
	t.mu.Lock()
	t.tagSetID = body.TagSetInfo.ID.Int()
	t.mu.Unlock()

	tags := namemap.New[string](len(body.Tags))
	for _, tag := range body.Tags {
		tags.Set(tag.Name, tag.ID.String())
	}
	return tags, nil
}

// TagSetID returns the id of the tag set new tags are created in.
func (t *Tags) TagSetID() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tagSetID
}

// Refresh reloads the tag list.
func (t *Tags) Refresh(ctx context.Context) error {
	_, err := t.cache.Refresh(ctx)
	return err
}

// All returns tag ids keyed by lower-cased name.
func (t *Tags) All(ctx context.Context) (map[string]string, error) {
	m, err := t.cache.Get(ctx)
	if err != nil {
		return nil, err
	}
	return m.All(), nil
}

// Has reports whether a tag named name exists.
func (t *Tags) Has(ctx context.Context, name string) (bool, error) {
	if name == "" {
		return false, sdkerrors.Precondition(sdkerrors.ModuleEntityTags, "101", "")
	}
	m, err := t.cache.Get(ctx)
	if err != nil {
		return false, err
	}
	return m.Has(name), nil
}

func (t *Tags) id(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", sdkerrors.Precondition(sdkerrors.ModuleEntityTags, "101", "")
	}
	m, err := t.cache.Get(ctx)
	if err != nil {
		return "", err
	}
	id, ok := m.Get(name)
	if !ok {
		return "", sdkerrors.Precondition(sdkerrors.ModuleEntityTags, "105", "")
	}
	return id, nil
}

// Get returns the tag named name.
func (t *Tags) Get(ctx context.Context, name string) (*Tag, error) {
	id, err := t.id(ctx, name)
	if err != nil {
		return nil, err
	}
	return NewTag(t.cc, name, id), nil
}

// Add creates a tag in the CommCell's tag set.
func (t *Tags) Add(ctx context.Context, name string) (*Tag, error) {
	if name == "" {
		return nil, sdkerrors.Precondition(sdkerrors.ModuleEntityTags, "101", "")
	}
	// The load also records the tag set id the new tag is created in.
	existing, err := t.cache.Get(ctx)
	if err != nil {
		return nil, err
	}
	if existing.Has(name) {
		return nil, sdkerrors.Precondition(sdkerrors.ModuleEntityTags, "102",
			fmt.Sprintf("Tag with name %q already exists", name))
	}

	type tagName struct {
		Name string `json:"name"`
	}
	req := struct {
		Container struct {
			ContainerID int `json:"containerId"`
		} `json:"container"`
		Tags []tagName `json:"tags"`
	}{Tags: []tagName{{Name: name}}}
	req.Container.ContainerID = t.TagSetID()

	var status struct {
		ErrList       *[]any           `json:"errList"`
		ErrLogMessage string           `json:"errLogMessage"`
		ErrorCode     commcell.FlexInt `json:"errorCode"`
	}
	if err := t.cc.PostJSON(ctx, commcell.CreateEntityTag.URL(), req, &status); err != nil {
		return nil, errors.Trace(err)
	}
	if status.ErrList != nil && (status.ErrorCode.Int() != 0 || status.ErrLogMessage != "") {
		return nil, sdkerrors.Application(sdkerrors.ModuleEntityTags, "103", status.ErrLogMessage)
	}
	if err := t.Refresh(ctx); err != nil {
		return nil, err
	}
	return t.Get(ctx, name)
}

// Delete removes the tag named name.
func (t *Tags) Delete(ctx context.Context, name string) error {
	id, err := t.id(ctx, name)
	if err != nil {
		return err
	}
	resp, err := t.cc.Request(ctx, http.MethodDelete, commcell.DeleteEntityTag.URL(id), nil)
	if err != nil {
		return errors.Trace(err)
	}
	var status commcell.TopLevelStatus
	if !resp.Empty() {
		if err := resp.JSON(&status); err != nil {
			return err
		}
	}
	if status.ErrorCode.Int() != 0 || status.ErrorMessage != "" {
		return sdkerrors.Application(sdkerrors.ModuleEntityTags, "102", "Error: "+status.ErrorMessage)
	}
	return t.Refresh(ctx)
}

// Tag is a single entity tag.
type Tag struct {
	cc   *commcell.Commcell
	name string
	id   string
}

// NewTag returns a handle on a tag. An empty id is resolved through the tag
// list on the first call to ID.
func NewTag(cc *commcell.Commcell, name, id string) *Tag {
	return &Tag{cc: cc, name: namemap.Key(name), id: id}
}

func (t *Tag) Name() string { return t.name }

// ID returns the tag id.
func (t *Tag) ID(ctx context.Context) (string, error) {
	if t.id != "" {
		return t.id, nil
	}
	id, err := NewTags(t.cc).id(ctx, t.name)
	if err != nil {
		return "", err
	}
	t.id = id
	return id, nil
}
