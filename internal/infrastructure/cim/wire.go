package cim

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"CoverityPublisher/internal/domain"
	"CoverityPublisher/internal/ports"
)

const (
	soapNS       = "http://schemas.xmlsoap.org/soap/envelope/"
	serviceNS    = "http://ws.coverity.com/v9"
	wsseNS       = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"
	passwordText = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-username-token-profile-1.0#PasswordText"
)

type requestEnvelope struct {
	XMLName xml.Name      `xml:"soapenv:Envelope"`
	SoapNS  string        `xml:"xmlns:soapenv,attr"`
	WsNS    string        `xml:"xmlns:ws,attr"`
	Header  requestHeader `xml:"soapenv:Header"`
	Body    requestBody   `xml:"soapenv:Body"`
}

type requestHeader struct {
	Security security `xml:"wsse:Security"`
}

type security struct {
	NS    string        `xml:"xmlns:wsse,attr"`
	Token usernameToken `xml:"wsse:UsernameToken"`
}

type usernameToken struct {
	Username string   `xml:"wsse:Username"`
	Password password `xml:"wsse:Password"`
}

type password struct {
	Type  string `xml:"Type,attr"`
	Value string `xml:",chardata"`
}

type requestBody struct {
	Call mergedDefectsRequest `xml:"ws:getMergedDefectsForStreams"`
}

type mergedDefectsRequest struct {
	StreamIDs     []nameID      `xml:"streamIds"`
	FilterSpec    filterSpec    `xml:"filterSpec"`
	PageSpec      pageSpec      `xml:"pageSpec"`
	SnapshotScope snapshotScope `xml:"snapshotScope"`
}

type nameID struct {
	Name string `xml:"name"`
}

type filterSpec struct {
	Checkers               []string `xml:"checkerList,omitempty"`
	Classifications        []string `xml:"classificationNameList,omitempty"`
	Actions                []string `xml:"actionNameList,omitempty"`
	Severities             []string `xml:"severityNameList,omitempty"`
	Impacts                []string `xml:"impactNameList,omitempty"`
	Components             []nameID `xml:"componentIdList,omitempty"`
	FirstDetectedStartDate string   `xml:"firstDetectedStartDate,omitempty"`
}

type pageSpec struct {
	PageSize   int `xml:"pageSize"`
	StartIndex int `xml:"startIndex"`
}

type snapshotScope struct {
	ShowSelector string `xml:"showSelector"`
}

func newRequest(user, pass string, filter ports.StreamFilter, offset, pageSize int) requestEnvelope {
	spec := filterSpec{
		Checkers:        filter.Checkers,
		Classifications: filter.Classifications,
		Actions:         filter.Actions,
		Severities:      filter.Severities,
		Impacts:         filter.Impacts,
	}
	for _, c := range filter.Components {
		spec.Components = append(spec.Components, nameID{Name: c})
	}
	if !filter.FirstDetectedAfter.IsZero() {
		spec.FirstDetectedStartDate = filter.FirstDetectedAfter.UTC().Format(time.RFC3339)
	}

	return requestEnvelope{
		SoapNS: soapNS,
		WsNS:   serviceNS,
		Header: requestHeader{Security: security{
			NS: wsseNS,
			Token: usernameToken{
				Username: user,
				Password: password{Type: passwordText, Value: pass},
			},
		}},
		Body: requestBody{Call: mergedDefectsRequest{
			StreamIDs:     []nameID{{Name: filter.Stream}},
			FilterSpec:    spec,
			PageSpec:      pageSpec{PageSize: pageSize, StartIndex: offset},
			SnapshotScope: snapshotScope{ShowSelector: "last()"},
		}},
	}
}

type responseEnvelope struct {
	Body struct {
		Fault    *soapFault `xml:"Fault"`
		Response *struct {
			Return mergedDefectsPage `xml:"return"`
		} `xml:"getMergedDefectsForStreamsResponse"`
	} `xml:"Body"`
}

type soapFault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
	Detail struct {
		CoverityFault *struct {
			ErrorCode string `xml:"errorCode"`
			Message   string `xml:"message"`
		} `xml:"CoverityFault"`
	} `xml:"detail"`
}

func (f *soapFault) toDomain() *domain.ServiceFault {
	if cf := f.Detail.CoverityFault; cf != nil {
		return &domain.ServiceFault{Code: cf.ErrorCode, Message: strings.TrimSpace(cf.Message)}
	}
	return &domain.ServiceFault{Code: f.Code, Message: strings.TrimSpace(f.String)}
}

type mergedDefectsPage struct {
	Total   int            `xml:"totalNumberOfRecords"`
	Defects []mergedDefect `xml:"mergedDefects"`
}

type mergedDefect struct {
	CID             int64            `xml:"cid"`
	MergeKey        string           `xml:"mergeKey"`
	CheckerName     string           `xml:"checkerName"`
	ComponentName   string           `xml:"componentName"`
	DisplayCategory string           `xml:"displayCategory"`
	DisplayImpact   string           `xml:"displayImpact"`
	DisplayType     string           `xml:"displayType"`
	DisplayFile     string           `xml:"displayFile"`
	DisplayFunction string           `xml:"displayFunction"`
	LineNumber      string           `xml:"lineNumber"`
	FirstDetected   string           `xml:"firstDetected"`
	Attributes      []attributeValue `xml:"defectStateAttributeValues"`
}

type attributeValue struct {
	Definition nameID `xml:"attributeDefinitionId"`
	Value      nameID `xml:"attributeValueId"`
}

// dateTimeLayouts are the xs:dateTime forms Connect emits; a value without a
// zone is read as UTC.
var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
}

func parseDateTime(value string) (time.Time, error) {
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised dateTime %q", value)
}

func (m mergedDefect) toDomain() (domain.DefectSummary, error) {
	d := domain.DefectSummary{
		CID:             m.CID,
		MergeKey:        m.MergeKey,
		Checker:         m.CheckerName,
		Component:       m.ComponentName,
		Impact:          m.DisplayImpact,
		DisplayType:     m.DisplayType,
		DisplayCategory: m.DisplayCategory,
		File:            m.DisplayFile,
		Function:        m.DisplayFunction,
	}

	if line, err := strconv.Atoi(strings.TrimSpace(m.LineNumber)); err == nil {
		d.Line = line
	}
	if ts := strings.TrimSpace(m.FirstDetected); ts != "" {
		parsed, err := parseDateTime(ts)
		if err != nil {
			return d, fmt.Errorf("defect %d firstDetected: %w", m.CID, err)
		}
		d.FirstDetected = parsed
	}

	for _, attr := range m.Attributes {
		switch attr.Definition.Name {
		case "Classification":
			d.Classification = attr.Value.Name
		case "Severity":
			d.Severity = attr.Value.Name
		case "Action":
			d.Action = attr.Value.Name
		}
	}
	return d, nil
}
