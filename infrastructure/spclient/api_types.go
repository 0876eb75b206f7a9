package spclient

import (
	"encoding/json"
	"fmt"
	"time"

	"sprisk/domain/sharepoint"
)

// Response shapes for the GetSharingInformation API, trimmed to the
// fields the risk scan consumes.

type sharingApiResponse struct {
	DisplayName  string `json:"displayName"`
	ItemUniqueID string `json:"itemUniqueId"`

	PermissionsInformation permissionsInformationApiData `json:"permissionsInformation"`
}

type permissionsInformationApiData struct {
	Links odataResults[linkApiData] `json:"links"`
}

type odataResults[T any] struct {
	Results []T `json:"results"`
}

// One entry per sharing link present on the item.
type linkApiData struct {
	IsInherited           bool               `json:"isInherited"`
	LinkDetails           linkDetailsApiData `json:"linkDetails"`
	TotalLinkMembersCount int                `json:"totalLinkMembersCount"`
}

type linkDetailsApiData struct {
	IsActive   bool `json:"IsActive"`
	IsEditLink bool `json:"IsEditLink"`

	// kind/scope as raw ints; see scopeToLinkType for the mapping
	LinkKind int `json:"LinkKind"`
	Scope    int `json:"Scope"`

	Created   string            `json:"Created"`
	CreatedBy *principalApiData `json:"CreatedBy"`

	// URL can be null for placeholder rows
	URL *string `json:"Url"`

	AllowsAnonymousAccess bool   `json:"AllowsAnonymousAccess"`
	Expiration            string `json:"Expiration"`
	ShareId               string `json:"ShareId"`
}

type principalApiData struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	LoginName string `json:"loginName"`
}

// decodeSharingApiResponse supports both verbose and JSON Light payloads.
func decodeSharingApiResponse(data []byte) (sharingApiResponse, error) {
	// Probe for the "d" wrapper first
	var probe struct {
		D json.RawMessage `json:"d"`
	}
	if err := json.Unmarshal(data, &probe); err == nil && len(probe.D) > 0 {
		var s sharingApiResponse
		if err := json.Unmarshal(probe.D, &s); err != nil {
			return sharingApiResponse{}, err
		}
		return s, nil
	}
	var s sharingApiResponse
	if err := json.Unmarshal(data, &s); err != nil {
		return sharingApiResponse{}, err
	}
	return s, nil
}

// mapSharingLinks converts a sharing API response into domain links,
// skipping inactive placeholder rows.
func mapSharingLinks(res sharingApiResponse, siteURL, itemGUID string) []*sharepoint.SharingLink {
	var out []*sharepoint.SharingLink
	for _, raw := range res.PermissionsInformation.Links.Results {
		d := raw.LinkDetails
		if !d.IsActive || d.URL == nil || *d.URL == "" {
			continue
		}

		link := &sharepoint.SharingLink{
			ID:          d.ShareId,
			SiteURL:     siteURL,
			ItemAddress: itemGUID,
			URL:         *d.URL,
			LinkType:    scopeToLinkType(d.Scope, d.AllowsAnonymousAccess),
			AccessLevel: sharepoint.AccessLevelView,
			CreatedAt:   parseSharingTime(d.Created),
			Expiration:  parseSharingTime(d.Expiration),
			MemberCount: raw.TotalLinkMembersCount,
		}
		if d.IsEditLink {
			link.AccessLevel = sharepoint.AccessLevelEdit
		}
		if d.CreatedBy != nil {
			link.CreatedBy = d.CreatedBy.Name
		}
		if link.ID == "" {
			link.ID = fmt.Sprintf("%s:%d", itemGUID, d.LinkKind)
		}

		out = append(out, link)
	}
	return out
}

// scopeToLinkType maps the observed link scope values: anonymous=0,
// organization=1, specificPeople=2. Placeholder rows carry -1.
func scopeToLinkType(scope int, allowsAnonymous bool) string {
	if allowsAnonymous || scope == 0 {
		return sharepoint.LinkTypeAnonymous
	}
	if scope == 1 {
		return sharepoint.LinkTypeCompany
	}
	return sharepoint.LinkTypeSpecificPeople
}

func parseSharingTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
