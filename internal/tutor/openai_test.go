package tutor

import "testing"

func TestParseReplyPlainJSON(t *testing.T) {
	reply, err := parseReply(`{"response":"Try a loop block","blockId":"b42","progress":30}`)
	if err != nil {
		t.Fatal(err)
	}
	if reply.Response != "Try a loop block" || reply.BlockID != "b42" || reply.Progress != 30 {
		t.Errorf("reply = %+v", reply)
	}
}

func TestParseReplyFencedJSON(t *testing.T) {
	content := "```json\n{\"response\":\"ok\",\"blockName\":\"controls_repeat\",\"progress\":55}\n```"
	reply, err := parseReply(content)
	if err != nil {
		t.Fatal(err)
	}
	if reply.Response != "ok" || reply.BlockName != "controls_repeat" || reply.Progress != 55 {
		t.Errorf("reply = %+v", reply)
	}
}

func TestParseReplyUnstructuredFallsBack(t *testing.T) {
	content := "Just use a repeat block here."
	reply, err := parseReply(content)
	if err != nil {
		t.Fatal(err)
	}
	if reply.Response != content {
		t.Errorf("reply = %+v, want raw content preserved", reply)
	}
	if reply.BlockID != "" || reply.Progress != 0 {
		t.Errorf("unexpected fields in fallback reply: %+v", reply)
	}
}
