package telephony

import (
	"strings"
	"testing"
)

func TestRenderTwiMLReject(t *testing.T) {
	xml, err := RenderTwiML(CallRoute{Action: CallActionReject})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if want := `<Reject reason="busy">`; !strings.Contains(xml, want) {
		t.Fatalf("expected %q in xml: %s", want, xml)
	}
}

func TestRenderTwiMLConnectSip(t *testing.T) {
	xml, err := RenderTwiML(CallRoute{Action: CallActionConnect, ConnectTo: "sip:agent_1@sip.example.com"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if want := "<Sip>sip:agent_1@sip.example.com</Sip>"; !strings.Contains(xml, want) {
		t.Fatalf("expected %q in xml: %s", want, xml)
	}
	if strings.Contains(xml, "<Number>") {
		t.Fatalf("did not expect a Number verb: %s", xml)
	}
}

func TestRenderTwiMLConnectNumber(t *testing.T) {
	xml, err := RenderTwiML(CallRoute{Action: CallActionConnect, ConnectTo: "+15550001111"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if want := "<Number>+15550001111</Number>"; !strings.Contains(xml, want) {
		t.Fatalf("expected %q in xml: %s", want, xml)
	}
}

func TestRenderTwiMLConnectRequiresTarget(t *testing.T) {
	if _, err := RenderTwiML(CallRoute{Action: CallActionConnect}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRenderTwiMLUnknownAction(t *testing.T) {
	if _, err := RenderTwiML(CallRoute{Action: "transfer"}); err == nil {
		t.Fatalf("expected error")
	}
}
