package gb28181

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseCommandBodyKeepalive(t *testing.T) {
	body := `<?xml version="1.0"?>
<Notify>
  <CmdType>Keepalive</CmdType>
  <SN>271</SN>
  <DeviceID>34020000001320000001</DeviceID>
  <Status>OK</Status>
</Notify>`
	cmd, err := ParseCommandBody(body)
	require.NoError(t, err)
	require.Equal(t, "Keepalive", cmd.CmdType)
	require.Equal(t, int64(271), cmd.SN)
	require.Equal(t, "34020000001320000001", cmd.DeviceID)
	require.Equal(t, "OK", cmd.Status)
	require.Nil(t, cmd.Channels)
}

func TestParseCommandBodyCatalog(t *testing.T) {
	body := `<?xml version="1.0"?>
<Response>
  <CmdType>Catalog</CmdType>
  <SN>17430</SN>
  <DeviceID>34020000001320000001</DeviceID>
  <SumNum>2</SumNum>
  <DeviceList Num="2">
    <Item>
      <DeviceID>34020000001310000001</DeviceID>
      <Name>East Gate</Name>
      <Manufacturer>Hikvision</Manufacturer>
      <Model>DS-2DE4A</Model>
      <Parental>0</Parental>
      <ParentID>34020000001320000001</ParentID>
      <RegisterWay>1</RegisterWay>
      <Secrecy>0</Secrecy>
      <Status>ON</Status>
      <Longitude>121.4737</Longitude>
      <Latitude>31.2304</Latitude>
      <PTZType>1</PTZType>
    </Item>
    <Item>
      <DeviceID>34020000001310000002</DeviceID>
      <Name>West Gate</Name>
      <Status>OFF</Status>
    </Item>
  </DeviceList>
</Response>`
	cmd, err := ParseCommandBody(body)
	require.NoError(t, err)
	require.Equal(t, "Catalog", cmd.CmdType)
	require.Len(t, cmd.Channels, 2)

	first := cmd.Channels[0]
	require.Equal(t, "34020000001320000001", first.DeviceID)
	require.Equal(t, "34020000001310000001", first.ChannelID)
	require.Equal(t, "East Gate", first.Name)
	require.Equal(t, "34020000001320000001", first.ParentID)
	require.Equal(t, 1, first.PTZType)
	require.NotNil(t, first.Longitude)
	require.InDelta(t, 121.4737, *first.Longitude, 1e-9)
	require.NotNil(t, first.Latitude)

	second := cmd.Channels[1]
	require.Equal(t, "OFF", second.Status)
	// Omitted RegisterWay falls back to 1; missing coordinates stay unset.
	require.Equal(t, 1, second.RegisterWay)
	require.Nil(t, second.Longitude)
	require.Nil(t, second.Latitude)
}

func TestParseCommandBodySkipsItemsWithoutID(t *testing.T) {
	body := `<?xml version="1.0"?>
<Response>
  <CmdType>Catalog</CmdType>
  <SN>1</SN>
  <DeviceID>34020000001320000001</DeviceID>
  <DeviceList Num="2">
    <Item><Name>no id</Name></Item>
    <Item><DeviceID>34020000001310000009</DeviceID></Item>
  </DeviceList>
</Response>`
	cmd, err := ParseCommandBody(body)
	require.NoError(t, err)
	require.Len(t, cmd.Channels, 1)
	require.Equal(t, "34020000001310000009", cmd.Channels[0].ChannelID)
}

func TestParseCommandBodyNonNumericCoordinates(t *testing.T) {
	body := `<?xml version="1.0"?>
<Response>
  <CmdType>Catalog</CmdType>
  <SN>1</SN>
  <DeviceID>34020000001320000001</DeviceID>
  <DeviceList Num="1">
    <Item>
      <DeviceID>34020000001310000001</DeviceID>
      <Longitude>unknown</Longitude>
      <Latitude></Latitude>
    </Item>
  </DeviceList>
</Response>`
	cmd, err := ParseCommandBody(body)
	require.NoError(t, err)
	require.Nil(t, cmd.Channels[0].Longitude)
	require.Nil(t, cmd.Channels[0].Latitude)
}

func TestParseCommandBodyDeviceInfo(t *testing.T) {
	body := `<?xml version="1.0"?>
<Response>
  <CmdType>DeviceInfo</CmdType>
  <SN>2</SN>
  <DeviceID>34020000001320000001</DeviceID>
  <DeviceName>IPC East</DeviceName>
  <Manufacturer>Dahua</Manufacturer>
  <Model>IPC-HFW</Model>
  <Firmware>2.800</Firmware>
</Response>`
	cmd, err := ParseCommandBody(body)
	require.NoError(t, err)
	require.Equal(t, "DeviceInfo", cmd.CmdType)
	require.Equal(t, "IPC East", cmd.DeviceName)
	require.Equal(t, "Dahua", cmd.Manufacturer)
	require.Equal(t, "IPC-HFW", cmd.Model)
	require.Equal(t, "2.800", cmd.Firmware)
}

func TestParseCommandBodyRejectsEmptyAndMalformed(t *testing.T) {
	_, err := ParseCommandBody("")
	require.Error(t, err)
	_, err = ParseCommandBody("   ")
	require.Error(t, err)
	_, err = ParseCommandBody("<Notify><CmdType>Keepalive")
	require.Error(t, err)
}

func TestBuildQueriesAndControl(t *testing.T) {
	catalog := buildCatalogQuery(42, "34020000001320000001")
	require.Contains(t, catalog, "<CmdType>Catalog</CmdType>")
	require.Contains(t, catalog, "<SN>42</SN>")
	require.Contains(t, catalog, "<DeviceID>34020000001320000001</DeviceID>")

	info := buildDeviceInfoQuery(7, "34020000001320000001")
	require.Contains(t, info, "<CmdType>DeviceInfo</CmdType>")

	control := buildDeviceControl(9, "34020000001310000001", "A50F0832000000EE")
	require.Contains(t, control, "<CmdType>DeviceControl</CmdType>")
	require.Contains(t, control, "<DeviceID>34020000001310000001</DeviceID>")
	require.Contains(t, control, "<PTZCmd>A50F0832000000EE</PTZCmd>")

	// Round-trips through the lenient parser.
	cmd, err := ParseCommandBody(catalog)
	require.NoError(t, err)
	require.Equal(t, "Catalog", cmd.CmdType)
	require.Equal(t, int64(42), cmd.SN)
}
