package ops

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Commvault/cvpysdk-sub002/commcell"
	"github.com/Commvault/cvpysdk-sub002/namemap"
	"github.com/Commvault/cvpysdk-sub002/sdkerrors"
	"github.com/Commvault/cvpysdk-sub002/transport"
)

// oneOrMany decodes a JSON value that is an object when the list has one
// element and an array otherwise.
type oneOrMany[T any] []T

func (o *oneOrMany[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '[' {
		var list []T
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*o = list
		return nil
	}
	var one T
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*o = oneOrMany[T]{one}
	return nil
}

// LookupEntity is a named download center entity: a version, a download
// type or a vendor.
type LookupEntity struct {
	ID   int
	Name string
}

type SubCategory struct {
	ID          int
	Name        string
	Description string
}

type Category struct {
	ID            int
	Name          string
	Description   string
	SubCategories map[string]SubCategory
}

type Platform struct {
	ID           int
	Name         string
	Architecture string
}

// Repository is a server packages can be stored on.
type Repository struct {
	ID           int
	Name         string
	InternalName string
}

// DCUser is a user or user group known to the download center.
type DCUser struct {
	Name string
	GUID string
	Type string
}

// PackagePlatform lists the download types a package offers on a platform.
type PackagePlatform struct {
	ID            int
	DownloadTypes []string
}

type Package struct {
	ID          int
	Name        string
	Description string
	Platforms   map[string]PackagePlatform
}

type dcEntityJSON struct {
	ID               commcell.FlexInt `json:"@id"`
	Name             string           `json:"@name"`
	Description      string           `json:"@description"`
	InternalName     string           `json:"@internalName"`
	CategoryID       commcell.FlexInt `json:"@categoryId"`
	ArchitectureName string           `json:"@architectureName"`
	GUID             string           `json:"@guid"`
	Type             any              `json:"@type"`
}

type lookupData struct {
	ProductVersions  oneOrMany[dcEntityJSON] `json:"productVersions"`
	ServersForBrowse oneOrMany[dcEntityJSON] `json:"serversForBrowse"`
	UsersAndGroups   oneOrMany[dcEntityJSON] `json:"usersAndGroups"`
	Categories       oneOrMany[dcEntityJSON] `json:"categories"`
	SubCategories    oneOrMany[dcEntityJSON] `json:"subCategories"`
	DownloadTypes    oneOrMany[dcEntityJSON] `json:"downloadTypes"`
	Vendors          oneOrMany[dcEntityJSON] `json:"vendors"`
	Platforms        oneOrMany[dcEntityJSON] `json:"platforms"`
}

type searchPackagesResponse struct {
	SearchResult *struct {
		Packages oneOrMany[struct {
			PackageID   commcell.FlexInt `json:"packageId"`
			Name        string           `json:"name"`
			Description string           `json:"description"`
			Platforms   oneOrMany[struct {
				ID           commcell.FlexInt `json:"id"`
				Name         string           `json:"name"`
				DownloadType struct {
					Name string `json:"name"`
				} `json:"downloadType"`
			}] `json:"platforms"`
		}] `json:"packages"`
	} `json:"searchResult"`
}

type lookupRequest struct {
	XMLName                   xml.Name `xml:"App_DCGetDataToCreatePackageReq"`
	GetListOfUsers            int      `xml:"getListOfUsers,attr"`
	GetListOfGroups           int      `xml:"getListOfGroups,attr"`
	GetCategories             int      `xml:"getCategories,attr"`
	GetSubCategories          int      `xml:"getSubCategories,attr"`
	GetPlatforms              int      `xml:"getPlatforms,attr"`
	GetDownloadTypes          int      `xml:"getDownloadTypes,attr"`
	GetProductVersions        int      `xml:"getProductVersions,attr"`
	GetRecutNumbers           int      `xml:"getRecutNumbers,attr"`
	GetVendors                int      `xml:"getVendors,attr"`
	GetDownloadedPackageUsers int      `xml:"getDownloadedPackageUsers,attr"`
	PackageID                 int      `xml:"packageId,attr"`
	GetServerTypes            int      `xml:"getServerTypes,attr"`
}

func newLookupRequest() lookupRequest {
	return lookupRequest{
		GetListOfUsers: 1, GetListOfGroups: 1, GetCategories: 1, GetSubCategories: 1,
		GetPlatforms: 1, GetDownloadTypes: 1, GetProductVersions: 1, GetRecutNumbers: 1,
		GetVendors: 1, GetDownloadedPackageUsers: 1, PackageID: 1, GetServerTypes: 1,
	}
}

type queryParam struct {
	Param string `xml:"param,attr"`
	Value string `xml:"value,attr"`
}

type searchRequest struct {
	XMLName              xml.Name `xml:"DM2ContentIndexing_CVSearchReq"`
	Mode                 int      `xml:"mode,attr"`
	SearchProcessingInfo struct {
		PageSize    int          `xml:"pageSize,attr"`
		QueryParams []queryParam `xml:"queryParams"`
	} `xml:"searchProcessingInfo"`
	AdvSearchGrp  struct{} `xml:"advSearchGrp"`
	FacetRequests struct {
		FacetRequest struct {
			Count           int    `xml:"count,attr"`
			Name            string `xml:"name,attr"`
			StringParameter struct {
				Selected int    `xml:"selected,attr"`
				Name     string `xml:"name,attr"`
			} `xml:"stringParameter"`
		} `xml:"facetRequest"`
	} `xml:"facetRequests"`
}

func newSearchRequest() searchRequest {
	var req searchRequest
	req.Mode = 2
	req.SearchProcessingInfo.PageSize = 1000000
	req.SearchProcessingInfo.QueryParams = []queryParam{
		{"ENABLE_DOWNLOADCENTER", "true"},
		{"GROUP_RESULTS_BY", "PKG_ID"},
		{"GROUP_LIMIT", "50"},
		{"GROUP_FACETS", "true"},
		{"GROUP_FLAT_RESULTS", "false"},
		{"SORTFIELD", "VALID_FROM"},
	}
	fr := &req.FacetRequests.FacetRequest
	fr.Count, fr.Name = 1, "PKG_STATUS"
	fr.StringParameter.Selected, fr.StringParameter.Name = 1, "0"
	return req
}

// Save operations of the lookup entity endpoints.
const (
	dcOpAdd    = 1
	dcOpDelete = 2
	dcOpUpdate = 3
)

var dcOpNames = map[int]string{dcOpAdd: "add", dcOpDelete: "delete", dcOpUpdate: "update"}

// dcResultFailed is the result attribute of a failed save.
const dcResultFailed = "3"

type errorDetail struct {
	ErrorCode    string `xml:"errorCode,attr"`
	ErrorMessage string `xml:"errorMessage,attr"`
}

type saveCategoryRequest struct {
	XMLName   xml.Name `xml:"App_DCSaveLookupEntityReq"`
	Operation int      `xml:"operation,attr"`
	Entity    struct {
		EntityType  int    `xml:"entityType,attr"`
		ID          string `xml:"id,attr"`
		Name        string `xml:"name,attr"`
		Description string `xml:"description,attr"`
	} `xml:"entitiesToSave"`
}

type saveCategoryResponse struct {
	Result string `xml:"result,attr"`
	Entity *struct {
		ID          string       `xml:"id,attr"`
		ErrorDetail *errorDetail `xml:"errorDetail"`
	} `xml:"entitiesToSave"`
}

type saveSubCategoryRequest struct {
	XMLName       xml.Name `xml:"App_DCSaveSubCategoriesMsg"`
	Operation     int      `xml:"operation,attr"`
	SubCategories struct {
		ID          string `xml:"id,attr"`
		Name        string `xml:"name,attr"`
		Description string `xml:"description,attr"`
		CategoryID  int    `xml:"categoryId,attr"`
	} `xml:"subCategories"`
}

type saveSubCategoryResponse struct {
	Result        string `xml:"result,attr"`
	SubCategories *struct {
		ID          string       `xml:"id,attr"`
		ErrorDetail *errorDetail `xml:"errorDetail"`
	} `xml:"subCategories"`
}

type dcState struct {
	versions      map[string]LookupEntity
	repositories  []Repository
	users         map[string]DCUser
	categories    map[string]Category
	downloadTypes map[string]LookupEntity
	vendors       map[string]LookupEntity
	platforms     map[string]Platform
	packages      namemap.Map[Package]
}

// DownloadCenter manages the categories and packages of the download center.
// Category, version and platform names are matched exactly; package names
// are case-insensitive.
type DownloadCenter struct {
	cc *commcell.Commcell

	mu    sync.Mutex
	state *dcState
}

func NewDownloadCenter(cc *commcell.Commcell) *DownloadCenter {
	return &DownloadCenter{cc: cc}
}

// sendXML posts doc and decodes the XML answer. A body that is not XML is
// DownloadCenter/101.
func (d *DownloadCenter) sendXML(ctx context.Context, path string, doc, out any) error {
	resp, err := d.cc.SendXML(ctx, path, doc, transport.ContentTypeXML)
	if err != nil {
		return err
	}
	return decodeDCXML(resp, out)
}

func decodeDCXML(resp *transport.Response, out any) error {
	if err := xml.Unmarshal(resp.Body, out); err != nil {
		return sdkerrors.Application(sdkerrors.ModuleDownloadCenter, "101", resp.Text()).Wrap(err)
	}
	return nil
}

func (d *DownloadCenter) postJSONAnswer(ctx context.Context, path string, doc, out any) error {
	resp, err := d.cc.SendXML(ctx, path, doc, transport.ContentTypeJSON)
	if err != nil {
		return err
	}
	if resp.Empty() {
		return sdkerrors.EmptyResponse()
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return sdkerrors.Application(sdkerrors.ModuleDownloadCenter, "101", resp.Text()).Wrap(err)
	}
	return nil
}

// Refresh reloads the lookup data and the package list.
func (d *DownloadCenter) Refresh(ctx context.Context) error {
	var data lookupData
	if err := d.postJSONAnswer(ctx, commcell.DownloadCenterData.URL(), newLookupRequest(), &data); err != nil {
		return err
	}
	var search searchPackagesResponse
	if err := d.postJSONAnswer(ctx, commcell.SearchPackages.URL(), newSearchRequest(), &search); err != nil {
		return err
	}
	if search.SearchResult == nil {
		return sdkerrors.EmptyResponse()
	}

	st := &dcState{
		versions:      make(map[string]LookupEntity),
		users:         make(map[string]DCUser),
		categories:    make(map[string]Category),
		downloadTypes: make(map[string]LookupEntity),
		vendors:       make(map[string]LookupEntity),
		platforms:     make(map[string]Platform),
		packages:      namemap.New[Package](len(search.SearchResult.Packages)),
	}
	for _, v := range data.ProductVersions {
		st.versions[v.Name] = LookupEntity{ID: v.ID.Int(), Name: v.Name}
	}
	for _, s := range data.ServersForBrowse {
		st.repositories = append(st.repositories, Repository{ID: s.ID.Int(), Name: s.Name, InternalName: s.InternalName})
	}
	for _, u := range data.UsersAndGroups {
		user := DCUser{Name: u.Name, GUID: u.GUID}
		if u.Type != nil {
			user.Type = fmt.Sprint(u.Type)
		}
		st.users[u.Name] = user
	}
	for _, c := range data.Categories {
		cat := Category{ID: c.ID.Int(), Name: c.Name, Description: c.Description, SubCategories: map[string]SubCategory{}}
		for _, sc := range data.SubCategories {
			if sc.CategoryID == c.ID {
				cat.SubCategories[sc.Name] = SubCategory{ID: sc.ID.Int(), Name: sc.Name, Description: sc.Description}
			}
		}
		st.categories[c.Name] = cat
	}
	for _, t := range data.DownloadTypes {
		st.downloadTypes[t.Name] = LookupEntity{ID: t.ID.Int(), Name: t.Name}
	}
	for _, v := range data.Vendors {
		st.vendors[v.Name] = LookupEntity{ID: v.ID.Int(), Name: v.Name}
	}
	for _, p := range data.Platforms {
		st.platforms[p.Name] = Platform{ID: p.ID.Int(), Name: p.Name, Architecture: p.ArchitectureName}
	}
	for _, p := range search.SearchResult.Packages {
		pkg := Package{ID: p.PackageID.Int(), Name: namemap.Key(p.Name), Description: p.Description, Platforms: map[string]PackagePlatform{}}
		for _, pl := range p.Platforms {
			entry := pkg.Platforms[pl.Name]
			entry.ID = pl.ID.Int()
			entry.DownloadTypes = append(entry.DownloadTypes, pl.DownloadType.Name)
			pkg.Platforms[pl.Name] = entry
		}
		st.packages.Set(p.Name, pkg)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = st
	return nil
}

func (d *DownloadCenter) current(ctx context.Context) (*dcState, error) {
	d.mu.Lock()
	st := d.state
	d.mu.Unlock()
	if st != nil {
		return st, nil
	}
	if err := d.Refresh(ctx); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (d *DownloadCenter) ProductVersions(ctx context.Context) ([]string, error) {
	st, err := d.current(ctx)
	if err != nil {
		return nil, err
	}
	return sortedKeys(st.versions), nil
}

// Repositories returns the servers packages can be uploaded to, in server
// order. The first one is the default.
func (d *DownloadCenter) Repositories(ctx context.Context) ([]Repository, error) {
	st, err := d.current(ctx)
	if err != nil {
		return nil, err
	}
	return append([]Repository(nil), st.repositories...), nil
}

func (d *DownloadCenter) UsersAndGroups(ctx context.Context) ([]string, error) {
	st, err := d.current(ctx)
	if err != nil {
		return nil, err
	}
	return sortedKeys(st.users), nil
}

func (d *DownloadCenter) Categories(ctx context.Context) ([]string, error) {
	st, err := d.current(ctx)
	if err != nil {
		return nil, err
	}
	return sortedKeys(st.categories), nil
}

func (d *DownloadCenter) DownloadTypes(ctx context.Context) ([]string, error) {
	st, err := d.current(ctx)
	if err != nil {
		return nil, err
	}
	return sortedKeys(st.downloadTypes), nil
}

func (d *DownloadCenter) Vendors(ctx context.Context) ([]string, error) {
	st, err := d.current(ctx)
	if err != nil {
		return nil, err
	}
	return sortedKeys(st.vendors), nil
}

func (d *DownloadCenter) Platforms(ctx context.Context) ([]string, error) {
	st, err := d.current(ctx)
	if err != nil {
		return nil, err
	}
	return sortedKeys(st.platforms), nil
}

// Packages returns the lower-cased package names.
func (d *DownloadCenter) Packages(ctx context.Context) ([]string, error) {
	st, err := d.current(ctx)
	if err != nil {
		return nil, err
	}
	return st.packages.Names(), nil
}

func (d *DownloadCenter) HasPackage(ctx context.Context, name string) (bool, error) {
	st, err := d.current(ctx)
	if err != nil {
		return false, err
	}
	return st.packages.Has(name), nil
}

// SubCategories returns the sub categories of category.
func (d *DownloadCenter) SubCategories(ctx context.Context, category string) ([]string, error) {
	st, err := d.current(ctx)
	if err != nil {
		return nil, err
	}
	cat, ok := st.categories[category]
	if !ok {
		return nil, sdkerrors.Precondition(sdkerrors.ModuleDownloadCenter, "103", "")
	}
	return sortedKeys(cat.SubCategories), nil
}

// PackageDetails describes a package and its platforms.
func (d *DownloadCenter) PackageDetails(ctx context.Context, name string) (Package, error) {
	st, err := d.current(ctx)
	if err != nil {
		return Package{}, err
	}
	pkg, ok := st.packages.Get(name)
	if !ok {
		return Package{}, sdkerrors.Precondition(sdkerrors.ModuleDownloadCenter, "106", "")
	}
	return pkg, nil
}

func (d *DownloadCenter) saveCategory(ctx context.Context, op int, id, name, description string) error {
	var req saveCategoryRequest
	req.Operation = op
	req.Entity.ID, req.Entity.Name, req.Entity.Description = id, name, description
	var resp saveCategoryResponse
	if err := d.sendXML(ctx, commcell.DownloadCenterEntity.URL(), req, &resp); err != nil {
		return err
	}
	if resp.Result == dcResultFailed && resp.Entity != nil && resp.Entity.ErrorDetail != nil && resp.Entity.ErrorDetail.ErrorCode != "0" {
		return sdkerrors.Application(sdkerrors.ModuleDownloadCenter, "102",
			fmt.Sprintf("Failed to %s the category.\nError: %q", dcOpNames[op], resp.Entity.ErrorDetail.ErrorMessage))
	}
	return d.Refresh(ctx)
}

func (d *DownloadCenter) category(ctx context.Context, name, missingCode string) (Category, *dcState, error) {
	st, err := d.current(ctx)
	if err != nil {
		return Category{}, nil, err
	}
	cat, ok := st.categories[name]
	if !ok && missingCode != "" {
		return Category{}, st, sdkerrors.Precondition(sdkerrors.ModuleDownloadCenter, missingCode, "")
	}
	return cat, st, nil
}

// AddCategory creates a category.
func (d *DownloadCenter) AddCategory(ctx context.Context, name, description string) error {
	st, err := d.current(ctx)
	if err != nil {
		return err
	}
	if _, ok := st.categories[name]; ok {
		return sdkerrors.Precondition(sdkerrors.ModuleDownloadCenter, "104", "")
	}
	return d.saveCategory(ctx, dcOpAdd, "", name, description)
}

// UpdateCategory renames a category and replaces its description.
func (d *DownloadCenter) UpdateCategory(ctx context.Context, name, newName, description string) error {
	cat, st, err := d.category(ctx, name, "108")
	if err != nil {
		return err
	}
	if _, ok := st.categories[newName]; ok {
		return sdkerrors.Precondition(sdkerrors.ModuleDownloadCenter, "104", "")
	}
	return d.saveCategory(ctx, dcOpUpdate, fmt.Sprint(cat.ID), newName, description)
}

func (d *DownloadCenter) DeleteCategory(ctx context.Context, name string) error {
	cat, _, err := d.category(ctx, name, "108")
	if err != nil {
		return err
	}
	return d.saveCategory(ctx, dcOpDelete, fmt.Sprint(cat.ID), name, "")
}

func (d *DownloadCenter) saveSubCategory(ctx context.Context, op int, id, name, description string, categoryID int) error {
	var req saveSubCategoryRequest
	req.Operation = op
	sc := &req.SubCategories
	sc.ID, sc.Name, sc.Description, sc.CategoryID = id, name, description, categoryID
	var resp saveSubCategoryResponse
	if err := d.sendXML(ctx, commcell.DownloadCenterSubCat.URL(), req, &resp); err != nil {
		return err
	}
	if resp.SubCategories == nil || resp.SubCategories.ErrorDetail == nil {
		return sdkerrors.Application(sdkerrors.ModuleDownloadCenter, "101", "sub category response carries no result")
	}
	if resp.Result == dcResultFailed && resp.SubCategories.ErrorDetail.ErrorCode != "0" {
		return sdkerrors.Application(sdkerrors.ModuleDownloadCenter, "102",
			fmt.Sprintf("Failed to %s the sub category.\nError: %q", dcOpNames[op], resp.SubCategories.ErrorDetail.ErrorMessage))
	}
	return d.Refresh(ctx)
}

// AddSubCategory creates a sub category under category.
func (d *DownloadCenter) AddSubCategory(ctx context.Context, name, category, description string) error {
	cat, _, err := d.category(ctx, category, "103")
	if err != nil {
		return err
	}
	if _, ok := cat.SubCategories[name]; ok {
		return sdkerrors.Precondition(sdkerrors.ModuleDownloadCenter, "105", "")
	}
	return d.saveSubCategory(ctx, dcOpAdd, "", name, description, cat.ID)
}

func (d *DownloadCenter) UpdateSubCategory(ctx context.Context, name, category, newName, description string) error {
	cat, _, err := d.category(ctx, category, "103")
	if err != nil {
		return err
	}
	sub, ok := cat.SubCategories[name]
	if !ok {
		return sdkerrors.Precondition(sdkerrors.ModuleDownloadCenter, "109", "")
	}
	if _, ok := cat.SubCategories[newName]; ok {
		return sdkerrors.Precondition(sdkerrors.ModuleDownloadCenter, "105", "")
	}
	return d.saveSubCategory(ctx, dcOpUpdate, fmt.Sprint(sub.ID), newName, description, cat.ID)
}

func (d *DownloadCenter) DeleteSubCategory(ctx context.Context, name, category string) error {
	cat, _, err := d.category(ctx, category, "103")
	if err != nil {
		return err
	}
	sub, ok := cat.SubCategories[name]
	if !ok {
		return sdkerrors.Precondition(sdkerrors.ModuleDownloadCenter, "109", "")
	}
	return d.saveSubCategory(ctx, dcOpDelete, fmt.Sprint(sub.ID), name, "", cat.ID)
}

// PlatformLocation is one platform build of an uploaded package.
type PlatformLocation struct {
	Platform     string
	DownloadType string
	Location     string
}

// UploadOptions describes a package to upload.
type UploadOptions struct {
	Name        string
	Category    string
	SubCategory string
	Version     string
	Description string
	Vendor      string
	// Repository defaults to the first repository of the download center.
	Repository      string
	ReadmeLocation  string
	Rank            int
	ValidFrom       time.Time
	ValidTo         time.Time
	Locations       []PlatformLocation
	VisibleTo       []string
	NotVisibleTo    []string
	EarlyPreviewers []string
}

var readmeExtensions = map[string]bool{".txt": true, ".pdf": true, ".doc": true, ".docx": true}

// packageSize is the size the upload request declares for every platform.
const packageSize = 186646528

type xmlEntityRef struct {
	EntityType int    `xml:"entityType,attr"`
	ID         string `xml:"id,attr,omitempty"`
	CategoryID string `xml:"categoryId,attr,omitempty"`
}

type xmlUserRef struct {
	Name string `xml:"name,attr"`
	GUID string `xml:"guid,attr"`
	Type string `xml:"type,attr"`
}

type xmlPackagePlatform struct {
	Name           string `xml:"name,attr"`
	ReadMeLocation string `xml:"readMeLocation,attr"`
	Location       string `xml:"location,attr"`
	ID             int    `xml:"id,attr"`
	Size           int64  `xml:"size,attr"`
	DownloadType   struct {
		Name string `xml:"name,attr"`
		ID   int    `xml:"id,attr"`
	} `xml:"downloadType"`
	PkgRepository struct {
		RepositoryID   int    `xml:"repositoryId,attr"`
		RepositoryName string `xml:"respositoryName,attr"`
	} `xml:"pkgRepository"`
}

type uploadPackageRequest struct {
	XMLName         xml.Name             `xml:"App_DCPackage"`
	Name            string               `xml:"name,attr"`
	Description     string               `xml:"description,attr"`
	ValidFrom       int64                `xml:"validFrom,attr"`
	ValidTo         string               `xml:"validTo,attr"`
	Rank            int                  `xml:"rank,attr"`
	Category        xmlEntityRef         `xml:"category"`
	SubCategory     xmlEntityRef         `xml:"subCategory"`
	Platforms       []xmlPackagePlatform `xml:"platforms"`
	ProductVersion  xmlEntityRef         `xml:"productVersion"`
	Vendor          xmlEntityRef         `xml:"vendor"`
	RecutNumber     xmlEntityRef         `xml:"recutNumber"`
	VisibleTo       []xmlUserRef         `xml:"visibleTo"`
	NotVisibleTo    []xmlUserRef         `xml:"notVisibleTo"`
	EarlyPreviewers []xmlUserRef         `xml:"earlyPreviewUsers"`
}

type packageResponse struct {
	ErrorDetail *errorDetail `xml:"errorDetail"`
}

func availableDetail(what string, names []string) string {
	return fmt.Sprintf("Available %s: %s", what, strings.Join(names, ", "))
}

func userRefs(st *dcState, names []string) []xmlUserRef {
	var refs []xmlUserRef
	for _, n := range names {
		if u, ok := st.users[n]; ok {
			refs = append(refs, xmlUserRef{Name: u.Name, GUID: u.GUID, Type: u.Type})
		}
	}
	return refs
}

func (d *DownloadCenter) uploadRequest(st *dcState, opts UploadOptions) (uploadPackageRequest, error) {
	if st.packages.Has(opts.Name) {
		return uploadPackageRequest{}, sdkerrors.Precondition(sdkerrors.ModuleDownloadCenter, "114", "")
	}
	cat, ok := st.categories[opts.Category]
	if !ok {
		return uploadPackageRequest{}, sdkerrors.Precondition(sdkerrors.ModuleDownloadCenter, "103", availableDetail("categories", sortedKeys(st.categories)))
	}
	version, ok := st.versions[opts.Version]
	if !ok {
		return uploadPackageRequest{}, sdkerrors.Precondition(sdkerrors.ModuleDownloadCenter, "115", availableDetail("versions", sortedKeys(st.versions)))
	}
	if opts.ReadmeLocation != "" && !readmeExtensions[strings.ToLower(filepath.Ext(opts.ReadmeLocation))] {
		return uploadPackageRequest{}, sdkerrors.Precondition(sdkerrors.ModuleDownloadCenter, "118", "")
	}
	repo, err := pickRepository(st.repositories, opts.Repository)
	if err != nil {
		return uploadPackageRequest{}, err
	}

	req := uploadPackageRequest{
		Name:           opts.Name,
		Description:    opts.Description,
		Rank:           opts.Rank,
		Category:       xmlEntityRef{EntityType: 0, ID: fmt.Sprint(cat.ID)},
		SubCategory:    xmlEntityRef{EntityType: 1, CategoryID: fmt.Sprint(cat.ID)},
		ProductVersion: xmlEntityRef{EntityType: 3, ID: fmt.Sprint(version.ID)},
		Vendor:         xmlEntityRef{EntityType: 6},
		RecutNumber:    xmlEntityRef{EntityType: 4},
	}
	for _, loc := range opts.Locations {
		platform, ok := st.platforms[loc.Platform]
		if !ok {
			return uploadPackageRequest{}, sdkerrors.Precondition(sdkerrors.ModuleDownloadCenter, "116", availableDetail("platforms", sortedKeys(st.platforms)))
		}
		dt, ok := st.downloadTypes[loc.DownloadType]
		if !ok {
			return uploadPackageRequest{}, sdkerrors.Precondition(sdkerrors.ModuleDownloadCenter, "117", availableDetail("download types", sortedKeys(st.downloadTypes)))
		}
		p := xmlPackagePlatform{
			Name:           loc.Platform,
			ReadMeLocation: opts.ReadmeLocation,
			Location:       loc.Location,
			ID:             platform.ID,
			Size:           packageSize,
		}
		p.DownloadType.Name, p.DownloadType.ID = dt.Name, dt.ID
		p.PkgRepository.RepositoryID, p.PkgRepository.RepositoryName = repo.ID, repo.InternalName
		req.Platforms = append(req.Platforms, p)
	}

	validFrom := opts.ValidFrom
	if validFrom.IsZero() {
		now := time.Now()
		validFrom = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.Local)
	}
	req.ValidFrom = validFrom.Unix()
	if !opts.ValidTo.IsZero() {
		req.ValidTo = fmt.Sprint(opts.ValidTo.Unix())
	}

	if opts.SubCategory != "" {
		sub, ok := cat.SubCategories[opts.SubCategory]
		if !ok {
			return uploadPackageRequest{}, sdkerrors.Precondition(sdkerrors.ModuleDownloadCenter, "109", availableDetail("Sub Categories", sortedKeys(cat.SubCategories)))
		}
		req.SubCategory.ID = fmt.Sprint(sub.ID)
	}
	if v, ok := st.vendors[opts.Vendor]; ok {
		req.Vendor.ID = fmt.Sprint(v.ID)
	}
	req.VisibleTo = userRefs(st, opts.VisibleTo)
	req.NotVisibleTo = userRefs(st, opts.NotVisibleTo)
	req.EarlyPreviewers = userRefs(st, opts.EarlyPreviewers)
	return req, nil
}

func pickRepository(repos []Repository, name string) (Repository, error) {
	if name == "" {
		if len(repos) == 0 {
			return Repository{}, sdkerrors.Precondition(sdkerrors.ModuleDownloadCenter, "102", "No package repository is available")
		}
		return repos[0], nil
	}
	for _, r := range repos {
		if r.Name == name {
			return r, nil
		}
	}
	return Repository{}, sdkerrors.Precondition(sdkerrors.ModuleDownloadCenter, "102", fmt.Sprintf("No package repository exists with name: %s", name))
}

// UploadPackage registers a new package. The download center is refreshed
// before the server's answer is checked.
func (d *DownloadCenter) UploadPackage(ctx context.Context, opts UploadOptions) error {
	st, err := d.current(ctx)
	if err != nil {
		return err
	}
	req, err := d.uploadRequest(st, opts)
	if err != nil {
		return err
	}
	resp, err := d.cc.SendXML(ctx, commcell.UploadPackage.URL(), req, transport.ContentTypeXML)
	if rerr := d.Refresh(ctx); rerr != nil {
		log.WithError(rerr).Debug("download center refresh after upload failed")
	}
	if err != nil {
		return err
	}
	var answer packageResponse
	if err := decodeDCXML(resp, &answer); err != nil {
		return err
	}
	if answer.ErrorDetail != nil && answer.ErrorDetail.ErrorCode != "0" {
		return sdkerrors.Application(sdkerrors.ModuleDownloadCenter, "119", "Error: "+answer.ErrorDetail.ErrorMessage)
	}
	log.WithField("package", opts.Name).Info("package uploaded to download center")
	return nil
}

type deletePackageResponse struct {
	ErrList *struct {
		ErrorCode     string `xml:"errorCode,attr"`
		ErrLogMessage string `xml:"errLogMessage,attr"`
	} `xml:"errList"`
}

// DeletePackage removes a package.
func (d *DownloadCenter) DeletePackage(ctx context.Context, name string) error {
	pkg, err := d.PackageDetails(ctx, name)
	if err != nil {
		return err
	}
	resp, err := d.cc.Request(ctx, http.MethodGet, commcell.DeletePackage.URL(pkg.ID), nil)
	if rerr := d.Refresh(ctx); rerr != nil {
		log.WithError(rerr).Debug("download center refresh after delete failed")
	}
	if err != nil {
		return err
	}
	var answer deletePackageResponse
	if err := decodeDCXML(resp, &answer); err != nil {
		return err
	}
	if answer.ErrList != nil && answer.ErrList.ErrorCode != "0" {
		return sdkerrors.Application(sdkerrors.ModuleDownloadCenter, "119", "Error: "+answer.ErrList.ErrLogMessage)
	}
	return nil
}

type fileParam struct {
	ID   int    `xml:"id,attr"`
	Name string `xml:"name,attr"`
}

type openFileRequest struct {
	XMLName    xml.Name    `xml:"DM2ContentIndexing_OpenFileReq"`
	RequestID  string      `xml:"requestId,attr"`
	FileParams []fileParam `xml:"fileParams"`
}

func newOpenFileRequest(packageID, platformID int, downloadType, requestID string) openFileRequest {
	return openFileRequest{
		RequestID: requestID,
		FileParams: []fileParam{
			{3, "Package"},
			{2, fmt.Sprint(packageID)},
			{9, fmt.Sprint(platformID)},
			{11, downloadType},
			{10, "Streamed"},
		},
	}
}

// selectBuild resolves the platform and download type of a package. Empty
// values are accepted when the package offers exactly one choice.
func selectBuild(pkg Package, platform, downloadType string) (string, PackagePlatform, string, error) {
	if platform == "" {
		if len(pkg.Platforms) > 1 {
			return "", PackagePlatform{}, "", sdkerrors.Precondition(sdkerrors.ModuleDownloadCenter, "110", "")
		}
		for name := range pkg.Platforms {
			platform = name
		}
	}
	build, ok := pkg.Platforms[platform]
	if !ok {
		return "", PackagePlatform{}, "", sdkerrors.Precondition(sdkerrors.ModuleDownloadCenter, "112", "")
	}
	if downloadType == "" {
		if len(build.DownloadTypes) != 1 {
			return "", PackagePlatform{}, "", sdkerrors.Precondition(sdkerrors.ModuleDownloadCenter, "111", "")
		}
		return platform, build, build.DownloadTypes[0], nil
	}
	for _, t := range build.DownloadTypes {
		if t == downloadType {
			return platform, build, t, nil
		}
	}
	return "", PackagePlatform{}, "", sdkerrors.Precondition(sdkerrors.ModuleDownloadCenter, "113", "")
}

// DownloadPackage downloads a package build into dir and returns the path of
// the written file.
func (d *DownloadCenter) DownloadPackage(ctx context.Context, name, dir, platform, downloadType string) (string, error) {
	pkg, err := d.PackageDetails(ctx, name)
	if err != nil {
		return "", err
	}
	_, build, dt, err := selectBuild(pkg, platform, downloadType)
	if err != nil {
		return "", err
	}

	var open struct {
		ErrList     []json.RawMessage `json:"errList"`
		FileContent struct {
			FileName  string `json:"fileName"`
			RequestID string `json:"requestId"`
		} `json:"fileContent"`
	}
	if err := d.postJSONAnswer(ctx, commcell.DownloadFile.URL(), newOpenFileRequest(pkg.ID, build.ID, dt, ""), &open); err != nil {
		return "", err
	}
	if len(open.ErrList) > 0 {
		return "", sdkerrors.Application(sdkerrors.ModuleDownloadCenter, "107", fmt.Sprintf("Error: %s", open.ErrList))
	}
	fileName := open.FileContent.FileName
	if fileName == "" {
		fileName = pkg.Name
	}

	resp, err := d.cc.SendXML(ctx, commcell.DownloadStream.URL(),
		newOpenFileRequest(pkg.ID, build.ID, dt, open.FileContent.RequestID), "application/octet-stream")
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Annotatef(err, "creating download directory %s", dir)
	}
	path := filepath.Join(dir, filepath.Base(fileName))
	if err := os.WriteFile(path, resp.Body, 0o644); err != nil {
		return "", errors.Annotatef(err, "writing package %s", path)
	}
	return path, nil
}
