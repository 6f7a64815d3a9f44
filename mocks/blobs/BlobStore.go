package blobs

import (
	context "context"
	io "io"

	mock "github.com/stretchr/testify/mock"
)

// BlobStore is a mock type for the BlobStore type
type BlobStore struct {
	mock.Mock
}

// Delete provides a mock function with given fields: ctx, ref
func (_m *BlobStore) Delete(ctx context.Context, ref string) error {
	ret := _m.Called(ctx, ref)

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context, string) error); ok {
		r0 = rf(ctx, ref)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// Open provides a mock function with given fields: ctx, ref
func (_m *BlobStore) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	ret := _m.Called(ctx, ref)

	var r0 io.ReadCloser
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string) (io.ReadCloser, error)); ok {
		return rf(ctx, ref)
	}
	if rf, ok := ret.Get(0).(func(context.Context, string) io.ReadCloser); ok {
		r0 = rf(ctx, ref)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(io.ReadCloser)
	}

	if rf, ok := ret.Get(1).(func(context.Context, string) error); ok {
		r1 = rf(ctx, ref)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// Put provides a mock function with given fields: ctx, ref, content, size
func (_m *BlobStore) Put(ctx context.Context, ref string, content io.Reader, size int64) error {
	ret := _m.Called(ctx, ref, content, size)

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context, string, io.Reader, int64) error); ok {
		r0 = rf(ctx, ref, content, size)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// NewBlobStore creates a new instance of BlobStore. It also registers a testing interface on
// the mock and a cleanup function to assert the mocks expectations.
func NewBlobStore(t interface {
	mock.TestingT
	Cleanup(func())
}) *BlobStore {
	mock := &BlobStore{}
	mock.Mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
