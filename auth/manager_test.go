package auth

import "testing"

func TestManager_RegisterAndLogin(t *testing.T) {
	m := NewManager()

	user, err := m.Register("alice", "hunter2", true, false)
	if err != nil {
		t.Fatal(err)
	}
	if user.Username != "alice" || !user.AIEnabled || user.IsAdmin {
		t.Errorf("unexpected user: %+v", user)
	}

	logged, err := m.Login("alice", "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if logged.Username != "alice" {
		t.Errorf("unexpected login: %+v", logged)
	}
}

func TestManager_RegisterDuplicate(t *testing.T) {
	m := NewManager()
	m.Register("alice", "hunter2", false, false)

	if _, err := m.Register("alice", "different", false, false); err != ErrUserExists {
		t.Errorf("got %v, want ErrUserExists", err)
	}
}

func TestManager_LoginWrongPassword(t *testing.T) {
	m := NewManager()
	m.Register("alice", "hunter2", false, false)

	if _, err := m.Login("alice", "wrong"); err != ErrInvalidLogin {
		t.Errorf("got %v, want ErrInvalidLogin", err)
	}
}

func TestManager_LoginUnknownUser(t *testing.T) {
	m := NewManager()
	if _, err := m.Login("nope", "x"); err != ErrInvalidLogin {
		t.Errorf("got %v, want ErrInvalidLogin", err)
	}
}
