package health_test

import (
	"context"
	"sync"

	"telephony-failover/internal/telephony"
	"telephony-failover/internal/voiceplatform"
)

type fakeProvider struct {
	mu         sync.Mutex
	account    telephony.Account
	accountErr error
	numbers    map[string]telephony.PhoneNumber
	lookupErr  error
	calls      int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		account: telephony.Account{SID: "AC1", FriendlyName: "Primary", Status: telephony.AccountStatusActive},
		numbers: map[string]telephony.PhoneNumber{},
	}
}

func (p *fakeProvider) addNumber(number string, status telephony.NumberStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.numbers[number] = telephony.PhoneNumber{SID: "PN" + number, PhoneNumber: number, Status: status}
}

func (p *fakeProvider) FetchAccount(context.Context, telephony.Credentials) (telephony.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.accountErr != nil {
		return telephony.Account{}, p.accountErr
	}
	return p.account, nil
}

func (p *fakeProvider) LookupPhoneNumber(_ context.Context, _ telephony.Credentials, number string) (telephony.PhoneNumber, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.lookupErr != nil {
		return telephony.PhoneNumber{}, false, p.lookupErr
	}
	n, ok := p.numbers[number]
	return n, ok, nil
}

func (p *fakeProvider) UpdateVoiceWebhook(context.Context, telephony.Credentials, string, telephony.VoiceWebhook) error {
	return nil
}

type fakePlatform struct {
	mu      sync.Mutex
	agents  map[string]voiceplatform.Agent
	getErr  map[string]error
	panicOn string
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{agents: map[string]voiceplatform.Agent{}, getErr: map[string]error{}}
}

func (p *fakePlatform) register(id, phoneNumberID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.agents[id] = voiceplatform.Agent{ID: id, PhoneNumberID: phoneNumberID}
}

func (p *fakePlatform) GetAgent(_ context.Context, id string) (voiceplatform.Agent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id == p.panicOn {
		panic("platform exploded")
	}
	if err := p.getErr[id]; err != nil {
		return voiceplatform.Agent{}, err
	}
	a, ok := p.agents[id]
	if !ok {
		return voiceplatform.Agent{}, &voiceplatform.APIError{StatusCode: 404, Message: "not found"}
	}
	return a, nil
}

func (p *fakePlatform) ImportPhoneNumber(context.Context, voiceplatform.ImportPhoneNumberRequest) (voiceplatform.ImportedNumber, error) {
	return voiceplatform.ImportedNumber{ID: "pn"}, nil
}

func (p *fakePlatform) AssignPhoneNumber(context.Context, string, string) error { return nil }
