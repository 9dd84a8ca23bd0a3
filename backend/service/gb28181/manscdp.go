package gb28181

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"videosurveillance/platform/backend/store"
)

// InboundCommand is the lenient view of a MANSCDP body. Only the fields the
// recognized command types need are extracted; everything else is ignored.
type InboundCommand struct {
	CmdType  string
	SN       int64
	DeviceID string

	// Catalog
	Channels []store.ChannelUpsertRequest

	// DeviceInfo
	DeviceName   string
	Manufacturer string
	Model        string
	Firmware     string

	// DeviceStatus / Keepalive
	Status string
}

type catalogItem struct {
	DeviceID     string `xml:"DeviceID"`
	Name         string `xml:"Name"`
	Manufacturer string `xml:"Manufacturer"`
	Model        string `xml:"Model"`
	Owner        string `xml:"Owner"`
	CivilCode    string `xml:"CivilCode"`
	Address      string `xml:"Address"`
	Parental     string `xml:"Parental"`
	ParentID     string `xml:"ParentID"`
	SafetyWay    string `xml:"SafetyWay"`
	RegisterWay  string `xml:"RegisterWay"`
	Secrecy      string `xml:"Secrecy"`
	Status       string `xml:"Status"`
	Longitude    string `xml:"Longitude"`
	Latitude     string `xml:"Latitude"`
	PTZType      string `xml:"PTZType"`
}

type manscdpPayload struct {
	CmdType      string `xml:"CmdType"`
	SN           string `xml:"SN"`
	DeviceID     string `xml:"DeviceID"`
	DeviceName   string `xml:"DeviceName"`
	Manufacturer string `xml:"Manufacturer"`
	Model        string `xml:"Model"`
	Firmware     string `xml:"Firmware"`
	Status       string `xml:"Status"`
	DeviceList   struct {
		Items []catalogItem `xml:"Item"`
	} `xml:"DeviceList"`
}

// ParseCommandBody decodes an inbound MANSCDP document. Malformed catalog
// items are skipped one by one instead of failing the whole body.
func ParseCommandBody(body string) (*InboundCommand, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, errors.New("empty command body")
	}
	var payload manscdpPayload
	if err := xml.Unmarshal([]byte(body), &payload); err != nil {
		return nil, err
	}
	cmd := &InboundCommand{
		CmdType:      strings.TrimSpace(payload.CmdType),
		DeviceID:     strings.TrimSpace(payload.DeviceID),
		DeviceName:   strings.TrimSpace(payload.DeviceName),
		Manufacturer: strings.TrimSpace(payload.Manufacturer),
		Model:        strings.TrimSpace(payload.Model),
		Firmware:     strings.TrimSpace(payload.Firmware),
		Status:       strings.TrimSpace(payload.Status),
	}
	if sn, err := strconv.ParseInt(strings.TrimSpace(payload.SN), 10, 64); err == nil {
		cmd.SN = sn
	}
	if !strings.EqualFold(cmd.CmdType, "catalog") {
		return cmd, nil
	}

	cmd.Channels = make([]store.ChannelUpsertRequest, 0, len(payload.DeviceList.Items))
	for _, item := range payload.DeviceList.Items {
		channelID := strings.TrimSpace(item.DeviceID)
		if channelID == "" {
			continue
		}
		cmd.Channels = append(cmd.Channels, store.ChannelUpsertRequest{
			DeviceID:     cmd.DeviceID,
			ChannelID:    channelID,
			Name:         strings.TrimSpace(item.Name),
			Manufacturer: strings.TrimSpace(item.Manufacturer),
			Model:        strings.TrimSpace(item.Model),
			Owner:        strings.TrimSpace(item.Owner),
			CivilCode:    strings.TrimSpace(item.CivilCode),
			Address:      strings.TrimSpace(item.Address),
			Parental:     parseIntField(item.Parental, 0),
			ParentID:     strings.TrimSpace(item.ParentID),
			SafetyWay:    parseIntField(item.SafetyWay, 0),
			RegisterWay:  parseIntField(item.RegisterWay, 1),
			Secrecy:      parseIntField(item.Secrecy, 0),
			Status:       strings.TrimSpace(item.Status),
			Longitude:    parseCoordinate(item.Longitude),
			Latitude:     parseCoordinate(item.Latitude),
			PTZType:      parseIntField(item.PTZType, 0),
		})
	}
	return cmd, nil
}

// parseCoordinate keeps geo fields unset unless present and numeric.
func parseCoordinate(raw string) *float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &value
}

func parseIntField(raw string, fallback int) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return value
}

func buildCatalogQuery(sn int64, deviceID string) string {
	return fmt.Sprintf(`<?xml version="1.0"?>
<Query>
  <CmdType>Catalog</CmdType>
  <SN>%d</SN>
  <DeviceID>%s</DeviceID>
</Query>`, sn, xmlEscape(deviceID))
}

func buildDeviceInfoQuery(sn int64, deviceID string) string {
	return fmt.Sprintf(`<?xml version="1.0"?>
<Query>
  <CmdType>DeviceInfo</CmdType>
  <SN>%d</SN>
  <DeviceID>%s</DeviceID>
</Query>`, sn, xmlEscape(deviceID))
}

func buildDeviceControl(sn int64, channelID string, ptzCmd string) string {
	return fmt.Sprintf(`<?xml version="1.0"?>
<Control>
  <CmdType>DeviceControl</CmdType>
  <SN>%d</SN>
  <DeviceID>%s</DeviceID>
  <PTZCmd>%s</PTZCmd>
</Control>`, sn, xmlEscape(channelID), xmlEscape(ptzCmd))
}

func xmlEscape(value string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&apos;",
	)
	return replacer.Replace(value)
}
